package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/hoist"
	"github.com/JakeFAU/realtime-stage-tracker/internal/timing"
)

// Built-in filter types.
const (
	TypeTiming = "timing"
	TypeHoist  = "hoist"
)

// Env carries the shared dependencies handed to every factory.
type Env struct {
	Logger *zap.Logger
	Clock  timing.Clock
}

func (e Env) named(filterID string) Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	e.Logger = e.Logger.With(zap.String("filter_id", filterID))
	return e
}

// Factory builds a filter from its decoded options.
type Factory func(options map[string]any, env Env) (Filter, error)

// Registry maps filter type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in filters.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	// Built-in names are distinct, so registration cannot fail.
	_ = reg.Register(TypeTiming, newTimingFilter)
	_ = reg.Register(TypeHoist, newHoistFilter)
	return reg
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateType)
	}
	r.factories[name] = factory
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return factory, nil
}

// Types lists the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DecodeOptions decodes raw filter options into out, rejecting unknown keys.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("options decoder: %w", err)
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

func newTimingFilter(options map[string]any, env Env) (Filter, error) {
	var cfg timing.Config
	if err := DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	tracker, err := timing.NewTracker(cfg, timing.WithClock(env.Clock), timing.WithLogger(env.Logger))
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

func newHoistFilter(options map[string]any, env Env) (Filter, error) {
	var cfg hoist.Config
	if err := DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	filter, err := hoist.New(cfg, env.Logger)
	if err != nil {
		return nil, err
	}
	return filter, nil
}
