// Package metrics exposes Prometheus collectors for the stage tracker service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxSourceLen = 64

var (
	submissionsTotal           *prometheus.CounterVec
	eventsTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	filterInvocationsTotal     *prometheus.CounterVec
	filterDurationSeconds      *prometheus.HistogramVec
	pipelineReloadsTotal       *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagetracker_submissions_total",
				Help: "Events submitted over HTTP, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagetracker_events_total",
				Help: "Total number of events processed, labeled by status.",
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		filterInvocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagetracker_filter_invocations_total",
				Help: "Filter invocations, labeled by pipeline, filter and match outcome.",
			},
			[]string{"pipeline", "filter_id", "filter_type", "matched"},
		)

		filterDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stagetracker_filter_duration_seconds",
				Help:    "Time spent inside a single filter.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
			[]string{"pipeline", "filter_type"},
		)

		pipelineReloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagetracker_pipeline_reloads_total",
				Help: "Pipeline file reloads, labeled by result.",
			},
			[]string{"result"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagetracker_retries_total",
				Help: "Retried archive and publish attempts, labeled by operation.",
			},
			[]string{"operation"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stagetracker_active_workers",
				Help: "Number of workers currently processing an event.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stagetracker_queue_depth",
				Help: "Events waiting in the in-process queue.",
			},
		)
	})
}

// SanitizeSource normalizes a submitter label for use as a metric label. It
// returns "unknown" for empty input and truncates long values.
func SanitizeSource(raw string) string {
	src := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range src {
		if b.Len() >= maxSourceLen {
			break
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts n submitted events for source with the given outcome.
func ObserveSubmission(source, outcome string, n int) {
	Init()
	if n <= 0 {
		return
	}
	submissionsTotal.WithLabelValues(SanitizeSource(source), outcome).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveEvent increments the event counter for the given status.
func ObserveEvent(status string) {
	Init()
	eventsTotal.WithLabelValues(status).Inc()
}

// ObservePipelineReload counts a reload attempt.
func ObservePipelineReload(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	pipelineReloadsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry counts one retried attempt of operation.
func ObserveRetry(operation string) {
	Init()
	retriesTotal.WithLabelValues(operation).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// FilterObserver records per-filter outcomes; it satisfies pipeline.Observer.
type FilterObserver struct{}

// ObserveFilter implements pipeline.Observer.
func (FilterObserver) ObserveFilter(pipelineID, filterID, filterType string, matched bool, d time.Duration) {
	Init()
	filterInvocationsTotal.WithLabelValues(pipelineID, filterID, filterType, strconv.FormatBool(matched)).Inc()
	filterDurationSeconds.WithLabelValues(pipelineID, filterType).Observe(d.Seconds())
}
