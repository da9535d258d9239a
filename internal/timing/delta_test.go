package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMillisRoundsHalfAwayFromZero(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		diff time.Duration
		want int64
	}{
		{name: "exact", diff: 1500 * time.Millisecond, want: 1500},
		{name: "below half", diff: 1499*time.Millisecond + 499*time.Microsecond, want: 1499},
		{name: "half", diff: 1499*time.Millisecond + 500*time.Microsecond, want: 1500},
		{name: "negative half", diff: -(1499*time.Millisecond + 500*time.Microsecond), want: -1500},
		{name: "negative below half", diff: -(1499*time.Millisecond + 499*time.Microsecond), want: -1499},
		{name: "zero", diff: 0, want: 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Millis(base.Add(tt.diff), base), tt.name)
	}
}

func TestMillisSaturatedDifference(t *testing.T) {
	t.Parallel()

	early := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

	got := Millis(late, early)
	want := (late.Unix() - early.Unix()) * 1000
	require.Equal(t, want, got)
	require.Equal(t, -want, Millis(early, late))
}

func TestComputeDeltas(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"a": "2024-01-01T00:00:00Z",
		"b": "garbage",
		"c": int64(1704067201000),
	}
	current := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)

	got := ComputeDeltas(current, "d", []string{"c", "b", "a", "missing"}, func(step string) any {
		return raw[step]
	})

	require.Equal(t, []Delta{
		{Label: "d-since_c", Step: "d", Prior: "c", Millis: 1000},
		{Label: "d-since_a", Step: "d", Prior: "a", Millis: 2000},
	}, got)
}

func TestComputeDeltasNoPrior(t *testing.T) {
	t.Parallel()

	got := ComputeDeltas(time.Now(), "a", nil, func(string) any { return nil })
	require.Empty(t, got)
}

func TestLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "parsed-since_received", Label("parsed", "received"))
}
