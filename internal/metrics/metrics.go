// Package metrics exposes Prometheus collectors for the crawler and
// the control API.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtside_pages_fetched_total",
		Help: "Content pages fetched, by outcome (ok, http_error, network_error, throttled).",
	}, []string{"outcome"})

	fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtside_fetch_retries_total",
		Help: "Fetch attempts repeated after an HTTP 429.",
	})

	robotsDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtside_robots_denied_total",
		Help: "Fetches skipped because robots rules disallow the path.",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtside_runs_total",
		Help: "Crawl runs finished, by terminal status.",
	}, []string{"status"})

	runActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courtside_run_active",
		Help: "1 while a crawl run is in progress.",
	})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courtside_rate_limit_wait_seconds",
		Help:    "Time spent waiting for per-domain admission.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"domain"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtside_http_requests_total",
		Help: "Control API requests, by route and status code.",
	}, []string{"route", "code"})

	httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courtside_http_request_duration_seconds",
		Help:    "Control API request latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageFetch counts one content fetch with its outcome label.
func ObservePageFetch(outcome string) {
	pagesFetchedTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchRetry counts one 429-triggered retry.
func ObserveFetchRetry() {
	fetchRetriesTotal.Inc()
}

// ObserveRobotsDenied counts one robots-disallowed skip.
func ObserveRobotsDenied() {
	robotsDeniedTotal.Inc()
}

// ObserveRunFinished counts one terminal run by status.
func ObserveRunFinished(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// SetRunActive flips the active-run gauge.
func SetRunActive(active bool) {
	if active {
		runActive.Set(1)
		return
	}
	runActive.Set(0)
}

// ObserveRateLimitWait records time spent blocked on domain admission.
func ObserveRateLimitWait(domain string, seconds float64) {
	rateLimitWaitSeconds.WithLabelValues(domain).Observe(seconds)
}

// ObserveHTTPRequest records one control API request.
func ObserveHTTPRequest(route string, code int, seconds float64) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(seconds)
}
