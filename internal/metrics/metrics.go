// Package metrics exposes Prometheus collectors for the audit service.
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
	auditPagesTotal             *prometheus.CounterVec
	auditBytesTotal             *prometheus.CounterVec
	auditFetchAttemptsTotal     *prometheus.CounterVec
	auditFetchDurationSeconds   *prometheus.HistogramVec
	auditRobotsDisallowedTotal  *prometheus.CounterVec
	auditRunsTotal              *prometheus.CounterVec
	auditRunsQueuedTotal        *prometheus.CounterVec
	auditActiveWorkers          prometheus.Gauge
	auditRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		auditPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_pages_total",
				Help: "Total number of pages recorded, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		auditBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		auditFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		auditFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		auditRobotsDisallowedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_robots_disallowed_total",
				Help: "Total number of URLs skipped because robots.txt disallows them.",
			},
			[]string{"site"},
		)

		auditRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_runs_total",
				Help: "Total number of audit runs that left the crawl loop, labeled by status.",
			},
			[]string{"status"},
		)

		auditRunsQueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_runs_queued_total",
				Help: "Total number of runs handed to the worker pool, labeled by kind (start or resume).",
			},
			[]string{"kind"},
		)

		auditActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		auditRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_rate_limit_delays_seconds",
				Help:    "Histogram of per-host throttle wait durations.",
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a recorded page. outcome is "ok" or "error".
func ObservePage(site string, outcome string, bytesFetched int64) {
	Init()
	sanitizedSite := SanitizeSite(site)
	auditPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		auditBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt records one fetch attempt. result is "success",
// "status_error" or "error".
func ObserveFetchAttempt(site string, result string, duration time.Duration) {
	Init()
	auditFetchAttemptsTotal.WithLabelValues(result).Inc()
	auditFetchDurationSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveRobotsDisallowed counts a URL skipped by robots.txt.
func ObserveRobotsDisallowed(site string) {
	Init()
	auditRobotsDisallowedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRun increments the run counter for the given final status.
func ObserveRun(status string) {
	Init()
	auditRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRunQueued counts a run handed to the worker pool.
func ObserveRunQueued(kind string) {
	Init()
	auditRunsQueuedTotal.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	auditActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	auditActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	auditRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
