package timing

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

// OrderKey is the reserved key inside the tracking container that holds the
// visitation order.
const OrderKey = "order"

// Ledger reads and writes the step history kept inside an event's tracking
// container.
type Ledger struct {
	container event.FieldRef
	order     event.FieldRef
}

// NewLedger returns a Ledger rooted at container.
func NewLedger(container event.FieldRef) Ledger {
	return Ledger{container: container, order: container.Child(OrderKey)}
}

// Container returns the tracking container reference.
func (l Ledger) Container() event.FieldRef {
	return l.container
}

// StepRef returns the reference of the entry named key inside the container.
func (l Ledger) StepRef(key string) event.FieldRef {
	return l.container.Child(key)
}

// EnsureContainer creates an empty tracking container when the field is
// absent, nil or false. An existing container is left untouched.
func (l Ledger) EnsureContainer(ev *event.Event) error {
	if v, ok := ev.Get(l.container); ok && present(v) {
		return nil
	}
	if err := ev.Set(l.container, map[string]any{}); err != nil {
		return fmt.Errorf("ensure container: %w", err)
	}
	return nil
}

// ReadOrder returns the recorded step order. A missing order reads as empty and
// a scalar reads as a single step.
func (l Ledger) ReadOrder(ev *event.Event) []string {
	raw, ok := ev.Get(l.order)
	if !ok || raw == nil {
		return nil
	}
	switch seq := raw.(type) {
	case []string:
		return append([]string(nil), seq...)
	case []any:
		out := make([]string, 0, len(seq))
		for _, item := range seq {
			out = append(out, stepName(item))
		}
		return out
	default:
		return []string{stepName(raw)}
	}
}

// WriteOrder replaces the recorded order.
func (l Ledger) WriteOrder(ev *event.Event, order []string) error {
	seq := make([]any, len(order))
	for i, step := range order {
		seq[i] = step
	}
	if err := ev.Set(l.order, seq); err != nil {
		return fmt.Errorf("write order: %w", err)
	}
	return nil
}

// AppendStep appends step to the recorded order. Repeated steps are kept.
func (l Ledger) AppendStep(ev *event.Event, step string) error {
	return l.WriteOrder(ev, append(l.ReadOrder(ev), step))
}

func stepName(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
