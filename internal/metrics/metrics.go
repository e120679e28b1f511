// Package metrics exposes Prometheus collectors for crawls, persistence and
// the admin API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns every collector. It satisfies the observer interfaces of the
// upsert engine, the frontier, the item pipeline and the crawler.
type Metrics struct {
	gatherer prometheus.Gatherer

	pagesTotal          *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
	upsertsTotal        *prometheus.CounterVec
	frontierOpsTotal    *prometheus.CounterVec
	resumeSkipsTotal    *prometheus.CounterVec
	droppedTotal        *prometheus.CounterVec
	rateLimitDelay      *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		pagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		),
		upsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_upserts_total",
				Help: "Top-level upserts, labeled by entity and outcome.",
			},
			[]string{"entity", "outcome"},
		),
		frontierOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_frontier_operations_total",
				Help: "Frontier enqueue and complete operations.",
			},
			[]string{"op"},
		),
		resumeSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_resume_skips_total",
				Help: "Pending entries skipped on resume because their tag has no handler.",
			},
			[]string{"crawl", "tag"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_records_dropped_total",
				Help: "Records dropped by the item pipeline, labeled by entity.",
			},
			[]string{"entity"},
		),
		rateLimitDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rate_limit_delay_seconds",
				Help:    "Time requests waited for the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(
		m.pagesTotal,
		m.bytesTotal,
		m.upsertsTotal,
		m.frontierOpsTotal,
		m.resumeSkipsTotal,
		m.droppedTotal,
		m.rateLimitDelay,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveCrawl counts one fetched page.
func (m *Metrics) ObserveCrawl(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	m.pagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		m.bytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveUpsert counts one top-level upsert outcome.
func (m *Metrics) ObserveUpsert(entity, outcome string) {
	m.upsertsTotal.WithLabelValues(entity, outcome).Inc()
}

// ObserveFrontier counts one frontier operation.
func (m *Metrics) ObserveFrontier(op string) {
	m.frontierOpsTotal.WithLabelValues(op).Inc()
}

// ObserveResumeSkip counts a pending entry that could not be replayed.
func (m *Metrics) ObserveResumeSkip(crawl, tag string) {
	m.resumeSkipsTotal.WithLabelValues(crawl, tag).Inc()
}

// ObserveDrop counts a record dropped by the pipeline.
func (m *Metrics) ObserveDrop(entity string) {
	m.droppedTotal.WithLabelValues(entity).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a rate limit token.
func (m *Metrics) ObserveRateLimitDelay(host string, d time.Duration) {
	m.rateLimitDelay.WithLabelValues(SanitizeSite(host)).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
