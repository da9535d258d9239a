package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes how the Hub buffers and groups milestones before fanning them
// out. Zero values fall back to the defaults below.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Stats is a point-in-time view of the Hub's counters.
type Stats struct {
	Accepted   int64
	Dropped    int64
	Invalid    int64
	SinkErrors int64
	ByStage    map[Stage]int64
}

// Hub collects stage milestones from the API and workers and delivers them to
// every sink in batches. Emit is safe for concurrent use and never blocks.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropWarn   rate.Sometimes
	accepted   atomic.Int64
	dropped    atomic.Int64
	invalid    atomic.Int64
	sinkErrors atomic.Int64
	closed     atomic.Bool

	stageMu sync.Mutex
	byStage map[Stage]int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the delivery goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   cfg.Logger,
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
		byStage:  make(map[Stage]int64),
	}
	go h.deliver()
	return h
}

// Emit queues a milestone. Invalid milestones and milestones emitted after
// Close are discarded; a full buffer drops the milestone.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.invalid.Add(1)
		h.logger.Debug("discarding invalid stage milestone",
			zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
		h.countStage(evt.Stage)
	default:
		total := h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("stage milestones dropped, hub buffer full",
				zap.String("stage", string(evt.Stage)),
				zap.Int64("dropped_total", total))
		})
	}
}

func (h *Hub) countStage(stage Stage) {
	h.stageMu.Lock()
	if h.byStage == nil {
		h.byStage = make(map[Stage]int64)
	}
	h.byStage[stage]++
	h.stageMu.Unlock()
}

// Stats returns a snapshot of the Hub's counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{ByStage: map[Stage]int64{}}
	}
	h.stageMu.Lock()
	byStage := make(map[Stage]int64, len(h.byStage))
	for stage, n := range h.byStage {
		byStage[stage] = n
	}
	h.stageMu.Unlock()
	return Stats{
		Accepted:   h.accepted.Load(),
		Dropped:    h.dropped.Load(),
		Invalid:    h.invalid.Load(),
		SinkErrors: h.sinkErrors.Load(),
		ByStage:    byStage,
	}
}

// Close stops intake, delivers whatever is buffered, closes every sink and
// waits for the delivery goroutine or ctx, whichever comes first. Repeated
// calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// deliver owns the pending batch. The flush deadline channel is nil while
// nothing is pending, which disables that select arm.
func (h *Hub) deliver() {
	defer close(h.doneCh)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var deadline *time.Timer
	var due <-chan time.Time
	disarm := func() {
		if deadline != nil {
			deadline.Stop()
		}
		deadline, due = nil, nil
	}
	send := func() {
		disarm()
		if len(pending) == 0 {
			return
		}
		h.fanOut(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents:
				send()
			case due == nil:
				deadline = time.NewTimer(h.cfg.MaxBatchWait)
				due = deadline.C
			}
		case <-due:
			deadline, due = nil, nil
			send()
		case <-h.stopCh:
			disarm()
			h.drain(pending)
			h.closeSinks()
			return
		}
	}
}

// drain delivers pending plus anything still sitting in the buffer.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.fanOut(pending)
				pending = pending[:0]
			}
		default:
			if len(pending) > 0 {
				h.fanOut(pending)
			}
			return
		}
	}
}

// fanOut hands every sink its own copy of batch, bounded by SinkTimeout.
func (h *Hub) fanOut(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, append([]Event(nil), batch...))
		cancel()
		if err != nil {
			h.sinkErrors.Add(1)
			h.logger.Warn("progress sink rejected batch",
				zap.Int("batch_size", len(batch)), zap.Error(err))
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
