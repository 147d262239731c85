package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for urls that cannot be crawled.
var ErrInvalidURL = errors.New("invalid url")

// NormalizeURL canonicalizes a novel or chapter url so the same page is
// stored once: scheme and host are lowercased, default ports and fragments
// are dropped, and query parameters are sorted. Only absolute http(s) urls
// are accepted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidURL, rawURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w %q: need an absolute http(s) url", ErrInvalidURL, rawURL)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
