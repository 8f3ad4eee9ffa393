// Package metrics exposes Prometheus collectors for the profile crawler.
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
	targetRequestsTotal        *prometheus.CounterVec
	challengesTotal            prometheus.Counter
	governorWaitSeconds        *prometheus.HistogramVec
	candidatesTotal            *prometheus.CounterVec
	profilesStoredTotal        prometheus.Counter
	recordsEmittedTotal        *prometheus.CounterVec
	taskFailuresTotal          prometheus.Counter
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		targetRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_target_requests_total",
				Help: "Requests sent to the target site, labeled by request class and status code.",
			},
			[]string{"class", "code"},
		)

		challengesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_challenges_total",
				Help: "Anti-bot challenges detected in target responses.",
			},
		)

		governorWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_governor_wait_seconds",
				Help:    "Histogram of governor waits, labeled by reason.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 300, 3600},
			},
			[]string{"reason"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_candidates_total",
				Help: "Search candidates seen, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		profilesStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_profiles_stored_total",
				Help: "Profiles upserted into the durable store.",
			},
		)

		recordsEmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_emitted_total",
				Help: "Records written to the output surface, labeled by mode.",
			},
			[]string{"mode"},
		)

		taskFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_task_failures_total",
				Help: "Input tasks that ended with an error.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Crawl runs, labeled by status.",
			},
			[]string{"status"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTargetRequest counts one request to the target site.
func ObserveTargetRequest(class string, code int) {
	Init()
	targetRequestsTotal.WithLabelValues(class, strconv.Itoa(code)).Inc()
}

// ObserveChallenge counts a detected anti-bot challenge.
func ObserveChallenge() {
	Init()
	challengesTotal.Inc()
}

// ObserveGovernorWait records how long the governor held a caller.
func ObserveGovernorWait(reason string, d time.Duration) {
	Init()
	governorWaitSeconds.WithLabelValues(reason).Observe(d.Seconds())
}

// ObserveCandidate counts a search candidate by outcome (processed, skipped, failed).
func ObserveCandidate(outcome string) {
	Init()
	candidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveProfileStored counts a durable upsert.
func ObserveProfileStored() {
	Init()
	profilesStoredTotal.Inc()
}

// ObserveRecordEmitted counts an output write (append or replace).
func ObserveRecordEmitted(mode string) {
	Init()
	recordsEmittedTotal.WithLabelValues(mode).Inc()
}

// ObserveTaskFailure counts a failed input task.
func ObserveTaskFailure() {
	Init()
	taskFailuresTotal.Inc()
}

// ObserveRun counts a run by status (completed, skipped, failed).
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
