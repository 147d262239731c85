package extract

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	fontFaceRe   = regexp.MustCompile(`(?is)@font-face\s*\{[^}]*\}`)
	srcURLRe     = regexp.MustCompile(`(?i)url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)
	fontFamilyRe = regexp.MustCompile(`(?i)font-family\s*:\s*([^;}]+)`)
	cssRuleRe    = regexp.MustCompile(`([^{}]+)\{([^{}]*)\}`)
)

// FontRef locates the obfuscation font on a page.
type FontRef struct {
	// URL is the best candidate: absolute, or a data: URI.
	URL string
	// Candidates lists every usable @font-face source, best first.
	Candidates []string
	// Families are the font families applied to the content container.
	Families []string
	// Stylesheets are linked CSS files to search when URL is empty.
	Stylesheets []string
}

// FontFace is the usable source of one @font-face rule.
type FontFace struct {
	// Family is lower-cased and unquoted; empty when the rule names none.
	Family string
	URL    string
}

// FindFont looks for @font-face sources in inline <style> blocks and style
// attributes, and lists linked stylesheets for a second pass.
func FindFont(html, pageURL string) (FontRef, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return FontRef{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return FontRef{}, fmt.Errorf("parse html: %w", err)
	}
	var ref FontRef
	var css strings.Builder
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css.WriteString(s.Text())
		css.WriteByte('\n')
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("style")
		css.WriteString(v)
		css.WriteByte('\n')
	})
	ref.Families = contentFamilies(doc, css.String())
	ref.Candidates = RankFonts(FontFaces(css.String(), base), ref.Families)
	if len(ref.Candidates) > 0 {
		ref.URL = ref.Candidates[0]
	}
	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			if abs := resolve(base, href); abs != "" {
				ref.Stylesheets = append(ref.Stylesheets, abs)
			}
		}
	})
	return ref, nil
}

// FontFaceURL returns the preferred source of the first @font-face rule in
// css.
func FontFaceURL(css string, base *url.URL) string {
	faces := FontFaces(css, base)
	if len(faces) == 0 {
		return ""
	}
	return faces[0].URL
}

// FontFaces returns one source per @font-face rule in css, in document order:
// WOFF or TrueType over other formats. Relative URLs resolve against base.
func FontFaces(css string, base *url.URL) []FontFace {
	var faces []FontFace
	for _, rule := range fontFaceRe.FindAllString(css, -1) {
		var candidates []string
		for _, m := range srcURLRe.FindAllStringSubmatch(rule, -1) {
			candidates = append(candidates, strings.TrimSpace(m[2]))
		}
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		for _, c := range candidates {
			if parseable(c) {
				best = c
				break
			}
		}
		face := FontFace{URL: best}
		if families := declaredFamilies(rule); len(families) > 0 {
			face.Family = families[0]
		}
		if !IsDataURI(best) {
			if face.URL = resolve(base, best); face.URL == "" {
				continue
			}
		}
		faces = append(faces, face)
	}
	return faces
}

// RankFonts orders face sources so faces whose family appears in families
// come first, in the order of families. Duplicate sources are dropped.
func RankFonts(faces []FontFace, families []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, family := range families {
		for _, f := range faces {
			if f.Family != "" && f.Family == family {
				add(f.URL)
			}
		}
	}
	for _, f := range faces {
		add(f.URL)
	}
	return out
}

// ContentFamilies returns the font families that css and inline styles apply
// to the chapter content container of html.
func ContentFamilies(html, css string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return contentFamilies(doc, css)
}

func contentFamilies(doc *goquery.Document, css string) []string {
	var content *goquery.Selection
	for _, sel := range ContentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			content = s.First()
			break
		}
	}
	if content == nil {
		return nil
	}
	scope := content.AddSelection(content.Find("*"))

	var families []string
	scope.Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("style"); ok {
			families = append(families, declaredFamilies(v)...)
		}
	})
	for _, m := range cssRuleRe.FindAllStringSubmatch(fontFaceRe.ReplaceAllString(css, ""), -1) {
		declared := declaredFamilies(m[2])
		if len(declared) == 0 {
			continue
		}
		for _, sel := range strings.Split(m[1], ",") {
			sel = strings.TrimSpace(sel)
			if sel == "" || strings.HasPrefix(sel, "@") {
				continue
			}
			if scope.Filter(sel).Length() > 0 {
				families = append(families, declared...)
				break
			}
		}
	}
	return families
}

// declaredFamilies lists the families of every font-family declaration in
// decl, lower-cased and unquoted.
func declaredFamilies(decl string) []string {
	var out []string
	for _, m := range fontFamilyRe.FindAllStringSubmatch(decl, -1) {
		value := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[1]), "!important"))
		for _, name := range strings.Split(value, ",") {
			name = strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
			if name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// parseable reports whether src looks like a format the glyph decoder reads.
func parseable(src string) bool {
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return !strings.Contains(lower, "woff2")
	case strings.Contains(lower, ".woff2"):
		return false
	default:
		return strings.Contains(lower, ".woff") || strings.Contains(lower, ".ttf") || strings.Contains(lower, ".otf")
	}
}

// IsDataURI reports whether ref is an inline data: URI.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(strings.ToLower(ref), "data:")
}

// DecodeDataURI returns the payload of a base64 data: URI.
func DecodeDataURI(uri string) ([]byte, error) {
	if !IsDataURI(uri) {
		return nil, errors.New("not a data uri")
	}
	header, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("unescape data uri: %w", err)
		}
		return []byte(decoded), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return data, nil
}
