// Package metrics exposes Prometheus collectors for the rank-check service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rankJobsTotal             *prometheus.CounterVec
	serpRequestsTotal         *prometheus.CounterVec
	serpPagesPerLookup        prometheus.Histogram
	serpRateLimitDelaySeconds prometheus.Histogram
	rankActiveWorkers         prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rankJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_jobs_total",
				Help: "Total rank-check jobs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		serpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_requests_total",
				Help: "Total search provider requests, labeled by status code.",
			},
			[]string{"code"},
		)

		serpPagesPerLookup = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serp_pages_per_lookup",
				Help:    "Result pages fetched per keyword lookup.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
		)

		serpRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serp_rate_limit_delay_seconds",
				Help:    "Histogram of provider rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		rankActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rank_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Job outcomes reported through ObserveJob.
const (
	JobOutcomeCompleted = "completed"
	JobOutcomeRetried   = "retried"
	JobOutcomeExhausted = "exhausted"
	JobOutcomeDropped   = "dropped"
)

// ObserveJob increments the job counter for the given outcome.
func ObserveJob(outcome string) {
	rankJobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSearchRequest counts one provider request by status code.
func ObserveSearchRequest(code int) {
	serpRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveSearchPages records how many pages a lookup walked.
func ObserveSearchPages(pages int) {
	serpPagesPerLookup.Observe(float64(pages))
}

// ObserveRateLimitDelay records the duration of a provider rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	serpRateLimitDelaySeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	rankActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	rankActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
