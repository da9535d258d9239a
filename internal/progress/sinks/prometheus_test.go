package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	eventID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{EventID: eventID, TS: now, Stage: progress.StageEventReceived},
		{EventID: eventID, TS: now, Stage: progress.StageStepDelta, Pipeline: "main", Step: "indexed", Prior: "received", Millis: 250},
		{EventID: eventID, TS: now, Stage: progress.StageStepDelta, Pipeline: "main", Step: "indexed", Prior: "sent", Millis: -40},
		{
			EventID:  eventID,
			TS:       now.Add(time.Millisecond),
			Stage:    progress.StageEventProcessed,
			Pipeline: "main",
			Step:     "indexed",
			Tags:     []string{"_ts_delta_unparseable_current_time"},
			Dur:      2 * time.Millisecond,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.eventsReceived))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.eventsCompleted.WithLabelValues("main", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.eventsCompleted.WithLabelValues("main", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.eventsInFlight))
	require.Equal(t, 2, testutil.CollectAndCount(sink.stepDelta, "stagetracker_step_delta_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.negativeDelta.WithLabelValues("main", "indexed", "sent")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tags.WithLabelValues("main", "_ts_delta_unparseable_current_time")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.processing, "stagetracker_event_processing_seconds"))
}

func TestPrometheusSinkFailedEvents(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	eventID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EventID: eventID, TS: time.Now(), Stage: progress.StageEventReceived},
		{EventID: eventID, TS: time.Now(), Stage: progress.StageEventReceived},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.eventsInFlight))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{EventID: eventID, TS: time.Now(), Stage: progress.StageEventFailed, Note: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.eventsCompleted.WithLabelValues("unknown", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.eventsInFlight))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
