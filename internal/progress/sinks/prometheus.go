package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns all
// collectors for events received/completed/in flight and per-step deltas.
type PrometheusSink struct {
	eventsReceived  prometheus.Counter
	eventsCompleted *prometheus.CounterVec
	eventsInFlight  prometheus.Gauge
	processing      *prometheus.HistogramVec

	stepDelta     *prometheus.HistogramVec
	negativeDelta *prometheus.CounterVec
	tags          *prometheus.CounterVec

	tracker *eventTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagetracker_events_received_total",
			Help: "Total events accepted for processing.",
		}),
		eventsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagetracker_events_completed_total",
			Help: "Total events completed partitioned by pipeline and result.",
		}, []string{"pipeline", "result"}),
		eventsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagetracker_events_in_flight",
			Help: "Events accepted but not yet completed.",
		}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagetracker_event_processing_seconds",
			Help:    "Wall time from dequeue to completion per event.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"pipeline", "result"}),
		stepDelta: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagetracker_step_delta_seconds",
			Help:    "Elapsed time between a step and each prior step.",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 3600},
		}, []string{"pipeline", "step", "prior"}),
		negativeDelta: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagetracker_step_delta_negative_total",
			Help: "Deltas below zero, usually clock skew between stamping hosts.",
		}, []string{"pipeline", "step", "prior"}),
		tags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagetracker_event_tags_total",
			Help: "Tags present on completed events.",
		}, []string{"pipeline", "tag"}),
		tracker: newEventTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.eventsReceived,
		s.eventsCompleted,
		s.eventsInFlight,
		s.processing,
		s.stepDelta,
		s.negativeDelta,
		s.tags,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageEventReceived, progress.StageEventProcessed, progress.StageEventFailed:
		s.handleLifecycle(evt)
	case progress.StageStepDelta:
		s.handleDelta(evt)
	}
}

func (s *PrometheusSink) handleLifecycle(evt progress.Event) {
	pipeline := labelOrUnknown(evt.Pipeline)
	switch evt.Stage {
	case progress.StageEventReceived:
		s.eventsReceived.Inc()
		if s.tracker.start(evt.EventID) {
			s.eventsInFlight.Inc()
		}
		return
	case progress.StageEventProcessed:
		s.eventsCompleted.WithLabelValues(pipeline, "success").Inc()
		s.observeProcessing(evt, pipeline, "success")
	case progress.StageEventFailed:
		s.eventsCompleted.WithLabelValues(pipeline, "error").Inc()
		s.observeProcessing(evt, pipeline, "error")
	}
	for _, tag := range evt.Tags {
		s.tags.WithLabelValues(pipeline, tag).Inc()
	}
	if s.tracker.complete(evt.EventID) {
		s.eventsInFlight.Dec()
	}
}

func (s *PrometheusSink) observeProcessing(evt progress.Event, pipeline, result string) {
	if evt.Dur > 0 {
		s.processing.WithLabelValues(pipeline, result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleDelta(evt progress.Event) {
	pipeline := labelOrUnknown(evt.Pipeline)
	s.stepDelta.WithLabelValues(pipeline, evt.Step, evt.Prior).Observe(float64(evt.Millis) / 1000)
	if evt.Millis < 0 {
		s.negativeDelta.WithLabelValues(pipeline, evt.Step, evt.Prior).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

type eventTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newEventTracker() *eventTracker {
	return &eventTracker{running: make(map[[16]byte]struct{})}
}

func (t *eventTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *eventTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
