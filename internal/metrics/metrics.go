// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsLive               prometheus.Gauge
	sessionRecyclesTotal       prometheus.Counter
	fetchAttemptsTotal         *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	glyphDecodesTotal          *prometheus.CounterVec
	assetFetchesTotal          *prometheus.CounterVec
	assetBytesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times, and every
// Observe/Set function calls it.
func Init() {
	once.Do(func() {
		sessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "novelcrawler_sessions_live",
			Help: "Number of live browser sessions in the pool.",
		})

		sessionRecyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "novelcrawler_session_recycles_total",
			Help: "Total number of explicit session recycles.",
		})

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelcrawler_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelcrawler_items_total",
				Help: "Total novels and chapters processed, labeled by kind and final status.",
			},
			[]string{"kind", "status"},
		)

		glyphDecodesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelcrawler_glyph_decodes_total",
				Help: "Total glyph substitution decodes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		assetFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelcrawler_asset_fetches_total",
				Help: "Total static asset downloads, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		assetBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelcrawler_asset_bytes_total",
				Help: "Total static asset bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "novelcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of asset rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from rawURL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// SetLiveSessions records the pool size.
func SetLiveSessions(n int) {
	Init()
	sessionsLive.Set(float64(n))
}

// ObserveRecycle counts an explicit session recycle.
func ObserveRecycle() {
	Init()
	sessionRecyclesTotal.Inc()
}

// ObserveFetchAttempt counts one fetch attempt ("success", "blocked",
// "captcha", "timeout", ...).
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveItem counts a processed novel or chapter by its final status.
func ObserveItem(kind, status string) {
	Init()
	itemsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveDecode counts a glyph decode by outcome.
func ObserveDecode(outcome string) {
	Init()
	glyphDecodesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAsset counts a static asset download.
func ObserveAsset(site string, status string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	assetFetchesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		assetBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
