package pipeline

import (
	"sync/atomic"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

// Holder publishes the current pipeline to concurrent readers. Swaps are
// atomic; an event that already holds a pipeline finishes on it.
type Holder struct {
	current atomic.Pointer[Pipeline]
}

// NewHolder returns a Holder serving p.
func NewHolder(p *Pipeline) *Holder {
	h := &Holder{}
	h.current.Store(p)
	return h
}

// Load returns the current pipeline, or nil if none was stored.
func (h *Holder) Load() *Pipeline {
	return h.current.Load()
}

// Store replaces the current pipeline.
func (h *Holder) Store(p *Pipeline) {
	h.current.Store(p)
}

// Process runs the current pipeline on ev. Without a pipeline ev is returned
// unchanged.
func (h *Holder) Process(ev *event.Event) *event.Event {
	p := h.Load()
	if p == nil {
		return ev
	}
	return p.Process(ev)
}
