// Package collyfetcher downloads static assets (obfuscation fonts,
// stylesheets) over plain HTTP with gocolly, presenting the same client
// signals as the browser session that rendered the page.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/novel-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int
}

// Request is one asset download.
type Request struct {
	URL            string
	UserAgent      string
	Referer        string
	AcceptLanguage string
}

// Asset is a downloaded resource.
type Asset struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher downloads assets with a Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, limiter: limiter, baseCollector: c}
}

// Fetch executes a single GET and returns the body of a 2xx response.
func (f *Fetcher) Fetch(ctx context.Context, request Request) (Asset, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return Asset{}, err
		}
	}
	var (
		result   Asset
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	f.configureCollectorHooks(collector, request, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		status := "error"
		if result.StatusCode != 0 {
			status = fmt.Sprint(result.StatusCode)
		}
		metrics.ObserveAsset(request.URL, status, 0)
		return Asset{}, err
	}
	metrics.ObserveAsset(request.URL, fmt.Sprint(result.StatusCode), len(result.Body))
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, request Request, result *Asset, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if request.Referer != "" {
			r.Headers.Set("Referer", request.Referer)
		}
		if request.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", request.AcceptLanguage)
		}
		r.Headers.Set("Accept", "*/*")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = Asset{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("asset fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("asset visit %s: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("asset response %s: %w", url, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
