package timing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

// Tags added to events the tracker could not fully annotate.
const (
	TagUnparseableCurrent = "_ts_delta_unparseable_current_time"
	TagWriteFailure       = "_ts_delta_write_failure"
)

// nowLayout renders the fallback timestamp written when no value is configured.
const nowLayout = "2006-01-02T15:04:05.000Z07:00"

// Config holds the tracker options as they appear in a pipeline file.
type Config struct {
	TrackingField  string `mapstructure:"tracking_field"`
	StepField      string `mapstructure:"step_field"`
	TimestampValue any    `mapstructure:"timestamp_value"`
	TimestampField string `mapstructure:"timestamp_field"`
}

// Validate reports missing or malformed options.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TrackingField) == "" {
		errs = append(errs, errors.New("tracking_field is required"))
	} else if _, err := event.ParseFieldRef(c.TrackingField); err != nil {
		errs = append(errs, fmt.Errorf("tracking_field: %w", err))
	}
	if strings.TrimSpace(c.StepField) == "" {
		errs = append(errs, errors.New("step_field is required"))
	}
	if c.TimestampField != "" {
		if _, err := event.ParseFieldRef(c.TimestampField); err != nil {
			errs = append(errs, fmt.Errorf("timestamp_field: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Clock supplies the fallback instant.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tracker records when an event reaches a step and how long it took to get
// there from every step it passed before. All state lives in the event, so a
// Tracker is safe for concurrent use across distinct events.
type Tracker struct {
	ledger         Ledger
	step           string
	timestampValue any
	timestampField event.FieldRef
	clock          Clock
	logger         *zap.Logger
}

// NewTracker validates cfg and builds a Tracker.
func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("timing config: %w", err)
	}
	container, err := event.ParseFieldRef(cfg.TrackingField)
	if err != nil {
		return nil, fmt.Errorf("timing config: %w", err)
	}
	t := &Tracker{
		ledger:         NewLedger(container),
		step:           cfg.StepField,
		timestampValue: cfg.TimestampValue,
		clock:          utcClock{},
		logger:         zap.NewNop(),
	}
	if cfg.TimestampField != "" {
		t.timestampField, err = event.ParseFieldRef(cfg.TimestampField)
		if err != nil {
			return nil, fmt.Errorf("timing config: %w", err)
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Step returns the step this tracker records.
func (t *Tracker) Step() string {
	return t.step
}

// Ledger returns the ledger the tracker writes to.
func (t *Tracker) Ledger() Ledger {
	return t.ledger
}

// Filter annotates ev and always reports a match.
func (t *Tracker) Filter(ev *event.Event) bool {
	t.Process(ev)
	return true
}

// Process annotates ev in place and returns it.
func (t *Tracker) Process(ev *event.Event) *event.Event {
	if err := t.ledger.EnsureContainer(ev); err != nil {
		t.writeFailed(ev, err)
		return ev
	}

	raw := t.resolve(ev)
	prior := t.ledger.ReadOrder(ev)

	if err := ev.Set(t.ledger.StepRef(t.step), raw); err != nil {
		t.writeFailed(ev, err)
		return ev
	}

	if current, ok := Normalize(raw); ok {
		deltas := ComputeDeltas(current, t.step, prior, func(p string) any {
			v, _ := ev.Get(t.ledger.StepRef(p))
			return v
		})
		for _, d := range deltas {
			if err := ev.Set(t.ledger.StepRef(d.Label), d.Millis); err != nil {
				t.writeFailed(ev, err)
				return ev
			}
		}
	} else {
		ev.Tag(TagUnparseableCurrent)
		t.logger.Debug("current timestamp unparseable",
			zap.String("step", t.step),
			zap.Any("value", raw),
		)
	}

	if err := t.ledger.WriteOrder(ev, append(prior, t.step)); err != nil {
		t.writeFailed(ev, err)
	}
	return ev
}

// resolve picks the dynamic field, then the static value, then the clock.
func (t *Tracker) resolve(ev *event.Event) any {
	if !t.timestampField.IsZero() {
		if v, ok := ev.Get(t.timestampField); ok && present(v) {
			return v
		}
	}
	if present(t.timestampValue) {
		return t.timestampValue
	}
	return t.clock.Now().UTC().Format(nowLayout)
}

// present treats nil and false as not supplied.
func present(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok && !b {
		return false
	}
	return true
}

func (t *Tracker) writeFailed(ev *event.Event, err error) {
	ev.Tag(TagWriteFailure)
	t.logger.Debug("timing write failed",
		zap.String("step", t.step),
		zap.String("tracking_field", t.ledger.Container().String()),
		zap.Error(err),
	)
}
