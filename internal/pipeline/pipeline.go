// Package pipeline builds ordered filter chains from YAML definitions and
// applies them to events.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
	"github.com/JakeFAU/realtime-stage-tracker/internal/timing"
)

// TagFilterPanic marks events on which a filter panicked.
const TagFilterPanic = "_filter_panic"

var (
	// ErrUnknownType is returned when a filter type has no registered factory.
	ErrUnknownType = errors.New("unknown filter type")
	// ErrDuplicateType is returned when a filter type is registered twice.
	ErrDuplicateType = errors.New("filter type already registered")
	// ErrDuplicateID is returned when two filters in a definition share an id.
	ErrDuplicateID = errors.New("duplicate filter id")
)

// Filter mutates an event in place and reports whether it matched. Only
// matching filters get their add_tag and remove_tag applied.
type Filter interface {
	Filter(ev *event.Event) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ev *event.Event) bool

// Filter calls f.
func (f FilterFunc) Filter(ev *event.Event) bool { return f(ev) }

// Observer receives the outcome of every filter invocation.
type Observer interface {
	ObserveFilter(pipelineID, filterID, filterType string, matched bool, d time.Duration)
}

// FilterInfo describes one configured filter.
type FilterInfo struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	AddTag    []string `json:"add_tag,omitempty"`
	RemoveTag []string `json:"remove_tag,omitempty"`
}

type stage struct {
	info   FilterInfo
	filter Filter
}

// Pipeline is an immutable, ordered list of filters. It is safe for concurrent
// use across distinct events.
type Pipeline struct {
	id       string
	stages   []stage
	logger   *zap.Logger
	observer Observer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver reports per-filter outcomes to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// Build instantiates every filter of def through reg.
func Build(def Definition, reg *Registry, env Env, opts ...Option) (*Pipeline, error) {
	if reg == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	p := &Pipeline{id: def.ID, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if env.Logger == nil {
		env.Logger = p.logger
	}

	seen := make(map[string]struct{}, len(def.Filters))
	for i, spec := range def.Filters {
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", spec.Type, i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("pipeline %q: %w: %s", def.ID, ErrDuplicateID, id)
		}
		seen[id] = struct{}{}

		factory, err := reg.Lookup(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q filter %q: %w", def.ID, id, err)
		}
		filter, err := factory(spec.Options, env.named(id))
		if err != nil {
			return nil, fmt.Errorf("pipeline %q filter %q: %w", def.ID, id, err)
		}
		p.stages = append(p.stages, stage{
			info: FilterInfo{
				ID:        id,
				Type:      spec.Type,
				AddTag:    append([]string(nil), spec.AddTag...),
				RemoveTag: append([]string(nil), spec.RemoveTag...),
			},
			filter: filter,
		})
	}
	return p, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string {
	return p.id
}

// Filters describes the configured filters in order.
func (p *Pipeline) Filters() []FilterInfo {
	out := make([]FilterInfo, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.info
	}
	return out
}

// Ledgers returns the distinct tracking containers written by the pipeline's
// timing filters, in first-use order.
func (p *Pipeline) Ledgers() []timing.Ledger {
	var out []timing.Ledger
	seen := make(map[string]struct{})
	for _, s := range p.stages {
		tr, ok := s.filter.(*timing.Tracker)
		if !ok {
			continue
		}
		l := tr.Ledger()
		key := l.Container().String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

// Trace reads back every delta stored in the containers of the pipeline's
// timing filters, for every step in their ledgers. That includes intermediate
// steps and deltas an upstream pipeline wrote before the event arrived. The
// last step comes from the last ledger that recorded anything.
func (p *Pipeline) Trace(ev *event.Event) ([]timing.Delta, string) {
	var (
		out  []timing.Delta
		last string
	)
	for _, l := range p.Ledgers() {
		out = append(out, timing.ReadDeltas(ev, l)...)
		if step := timing.LastStep(ev, l); step != "" {
			last = step
		}
	}
	return out, last
}

// Process runs every filter on ev in order and returns ev.
func (p *Pipeline) Process(ev *event.Event) *event.Event {
	for _, s := range p.stages {
		start := time.Now()
		matched := p.run(s, ev)
		if matched {
			for _, tag := range s.info.AddTag {
				ev.Tag(tag)
			}
			for _, tag := range s.info.RemoveTag {
				ev.Untag(tag)
			}
		}
		if p.observer != nil {
			p.observer.ObserveFilter(p.id, s.info.ID, s.info.Type, matched, time.Since(start))
		}
	}
	return ev
}

func (p *Pipeline) run(s stage, ev *event.Event) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			ev.Tag(TagFilterPanic)
			p.logger.Error("filter panicked",
				zap.String("pipeline", p.id),
				zap.String("filter_id", s.info.ID),
				zap.String("filter_type", s.info.Type),
				zap.Any("panic", r),
			)
		}
	}()
	return s.filter.Filter(ev)
}
