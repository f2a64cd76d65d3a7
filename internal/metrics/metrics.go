// Package metrics exposes Prometheus collectors for the discography crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discocrawl_fetch_attempts_total",
			Help: "Page load attempts, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchBackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discocrawl_fetch_backoff_seconds",
			Help:    "Delay applied between retry attempts, labeled by reason.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"reason"},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discocrawl_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the page-load rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discocrawl_records_total",
			Help: "Records handled by the pipeline, labeled by type and result.",
		},
		[]string{"record_type", "result"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discocrawl_listing_pages_total",
			Help: "Genre listing pages consumed, labeled by genre.",
		},
		[]string{"genre"},
	)

	mirrorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discocrawl_mirror_errors_total",
			Help: "Failed writes to secondary record sinks.",
		},
		[]string{"sink"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discocrawl_runs_total",
			Help: "Completed pipeline runs, labeled by terminal state.",
		},
		[]string{"state"},
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
)

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

// ObserveFetchAttempt counts one page load attempt and its outcome.
func ObserveFetchAttempt(rawURL, outcome string) {
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveBackoff records a retry delay.
func ObserveBackoff(reason string, delay time.Duration) {
	fetchBackoffSeconds.WithLabelValues(reason).Observe(delay.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(delay time.Duration) {
	rateLimitDelaySeconds.Observe(delay.Seconds())
}

// ObserveRecord counts a persisted, skipped or already-seen record.
func ObserveRecord(recordType, result string) {
	recordsTotal.WithLabelValues(recordType, result).Inc()
}

// ObserveListingPage counts a consumed listing page.
func ObserveListingPage(genre string) {
	pagesTotal.WithLabelValues(genre).Inc()
}

// ObserveMirrorError counts a failed secondary sink write.
func ObserveMirrorError(sink string) {
	mirrorErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveRun counts a finished run by terminal state.
func ObserveRun(state string) {
	runsTotal.WithLabelValues(state).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
