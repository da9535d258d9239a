package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepStatsDeltaObserve(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0)
	var d StepStatsDelta
	d.Observe(120, base)
	d.Observe(-30, base.Add(time.Second))
	d.Observe(60, base.Add(-time.Second))

	require.Equal(t, StepStatsDelta{
		Count:       3,
		TotalMillis: 150,
		MinMillis:   -30,
		MaxMillis:   120,
		Negative:    1,
		At:          base.Add(time.Second),
	}, d)
}

func TestStepStatsMean(t *testing.T) {
	t.Parallel()

	require.Zero(t, StepStats{}.MeanMillis())
	require.InDelta(t, 50.0, StepStats{Count: 3, TotalMillis: 150}.MeanMillis(), 1e-9)
}
