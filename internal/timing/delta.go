package timing

import (
	"math"
	"time"
)

// sinceSeparator joins the current and prior step in a delta label.
const sinceSeparator = "-since_"

// Delta is the signed elapsed time between the current step and one prior step.
type Delta struct {
	Label  string `json:"label"`
	Step   string `json:"step"`
	Prior  string `json:"prior"`
	Millis int64  `json:"millis"`
}

// Label returns the delta field name for step measured against prior.
func Label(step, prior string) string {
	return step + sinceSeparator + prior
}

// ComputeDeltas measures current against every prior step, in ledger order.
// readPrior returns the raw value stored for a prior step; priors whose value
// does not normalize are skipped.
func ComputeDeltas(current time.Time, step string, prior []string, readPrior func(string) any) []Delta {
	deltas := make([]Delta, 0, len(prior))
	for _, p := range prior {
		at, ok := Normalize(readPrior(p))
		if !ok {
			continue
		}
		deltas = append(deltas, Delta{
			Label:  Label(step, p),
			Step:   step,
			Prior:  p,
			Millis: Millis(current, at),
		})
	}
	return deltas
}

// Millis returns current minus prior in whole milliseconds, rounding half away
// from zero.
func Millis(current, prior time.Time) int64 {
	d := current.Sub(prior)
	if d == math.MaxInt64 || d == math.MinInt64 {
		// Sub saturated; fall back to second arithmetic.
		secs := float64(current.Unix() - prior.Unix())
		nanos := float64(current.Nanosecond() - prior.Nanosecond())
		return int64(math.Round(secs*1000 + nanos/1e6))
	}
	ms := d / time.Millisecond
	rem := d % time.Millisecond
	switch {
	case rem >= time.Millisecond/2:
		ms++
	case rem <= -time.Millisecond/2:
		ms--
	}
	return int64(ms)
}
