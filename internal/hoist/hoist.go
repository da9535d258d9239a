// Package hoist copies the entries of a nested object up to the event root.
package hoist

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

// TagError marks events whose source was not an object or whose entries
// collided with existing root fields.
const TagError = "_hoisterror"

// Config holds the hoist options as they appear in a pipeline file.
type Config struct {
	Source       string `mapstructure:"source"`
	RemoveSource bool   `mapstructure:"remove_source"`
	Overwrite    bool   `mapstructure:"overwrite"`
}

// Validate reports missing or malformed options.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return errors.New("source is required")
	}
	if _, err := event.ParseFieldRef(c.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return nil
}

// Filter hoists the entries of one source object.
type Filter struct {
	source       event.FieldRef
	removeSource bool
	overwrite    bool
	logger       *zap.Logger
}

// New validates cfg and builds a Filter.
func New(cfg Config, logger *zap.Logger) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hoist config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		source:       event.MustParseFieldRef(cfg.Source),
		removeSource: cfg.RemoveSource,
		overwrite:    cfg.Overwrite,
		logger:       logger,
	}, nil
}

// Filter hoists the source entries of ev. It reports false when the source is
// absent or is not an object.
func (f *Filter) Filter(ev *event.Event) bool {
	raw, ok := ev.Get(f.source)
	if !ok {
		return false
	}
	source, ok := raw.(map[string]any)
	if !ok {
		ev.Tag(TagError)
		f.logger.Debug("hoist source is not an object",
			zap.String("source", f.source.String()),
			zap.String("type", fmt.Sprintf("%T", raw)),
		)
		return false
	}

	keys := make([]string, 0, len(source))
	for key := range source {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	collisions := make(map[string]struct{})
	for _, key := range keys {
		if ev.Include(event.Field(key)) {
			collisions[key] = struct{}{}
		}
	}
	if len(collisions) > 0 && !f.overwrite {
		ev.Tag(TagError)
	}

	if f.removeSource && !f.overwrite && len(collisions) > 0 {
		kept := make(map[string]any, len(collisions))
		for key := range collisions {
			kept[key] = source[key]
		}
		f.set(ev, f.source, kept)
		for _, key := range keys {
			if _, clash := collisions[key]; !clash {
				f.set(ev, event.Field(key), event.DeepCopy(source[key]))
			}
		}
		return true
	}

	for _, key := range keys {
		ref := event.Field(key)
		if f.overwrite || !ev.Include(ref) {
			f.set(ev, ref, event.DeepCopy(source[key]))
		}
	}
	if f.removeSource {
		ev.Remove(f.source)
	}
	return true
}

func (f *Filter) set(ev *event.Event, ref event.FieldRef, v any) {
	if err := ev.Set(ref, v); err != nil {
		ev.Tag(TagError)
		f.logger.Debug("hoist write failed", zap.String("field", ref.String()), zap.Error(err))
	}
}
