package timing

import (
	"github.com/spf13/cast"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

// ReadDeltas collects every delta field recorded in ev's tracking container,
// not only those of the last step. Steps are visited in ledger order and each step's priors from oldest to
// newest. Missing or non-numeric entries are skipped.
func ReadDeltas(ev *event.Event, l Ledger) []Delta {
	order := l.ReadOrder(ev)
	var out []Delta
	seen := make(map[string]struct{})
	for i, step := range order {
		for _, prior := range order[:i] {
			label := Label(step, prior)
			if _, dup := seen[label]; dup {
				continue
			}
			raw, ok := ev.Get(l.StepRef(label))
			if !ok {
				continue
			}
			ms, err := cast.ToInt64E(raw)
			if err != nil {
				continue
			}
			seen[label] = struct{}{}
			out = append(out, Delta{Label: label, Step: step, Prior: prior, Millis: ms})
		}
	}
	return out
}

// LastStep returns the most recently recorded step, or "" when none is.
func LastStep(ev *event.Event, l Ledger) string {
	order := l.ReadOrder(ev)
	if len(order) == 0 {
		return ""
	}
	return order[len(order)-1]
}
