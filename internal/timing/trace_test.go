package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

func TestReadDeltas(t *testing.T) {
	t.Parallel()

	ev := event.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, step := range []string{"a", "b", "c"} {
		tr, err := NewTracker(Config{
			TrackingField:  "t",
			StepField:      step,
			TimestampValue: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		})
		require.NoError(t, err)
		tr.Process(ev)
	}

	l := NewLedger(event.MustParseFieldRef("t"))
	require.Equal(t, []Delta{
		{Label: "b-since_a", Step: "b", Prior: "a", Millis: 1000},
		{Label: "c-since_a", Step: "c", Prior: "a", Millis: 2000},
		{Label: "c-since_b", Step: "c", Prior: "b", Millis: 1000},
	}, ReadDeltas(ev, l))
	require.Equal(t, "c", LastStep(ev, l))
}

func TestReadDeltasSkipsUnreadable(t *testing.T) {
	t.Parallel()

	ev := event.FromMap(map[string]any{
		"t": map[string]any{
			"order":     []any{"a", "b", "c"},
			"b-since_a": "oops",
			"c-since_a": float64(12),
		},
	})
	l := NewLedger(event.MustParseFieldRef("t"))
	require.Equal(t, []Delta{{Label: "c-since_a", Step: "c", Prior: "a", Millis: 12}}, ReadDeltas(ev, l))
	require.Empty(t, LastStep(event.New(), l))
}
