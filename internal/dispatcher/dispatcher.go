// Package dispatcher connects accepted events to the worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
	"github.com/JakeFAU/realtime-stage-tracker/internal/metrics"
	"github.com/JakeFAU/realtime-stage-tracker/internal/worker"
)

// ErrInvalidItem is returned by Enqueue for items without an id or event.
var ErrInvalidItem = errors.New("queue item needs an event id and an event")

const defaultDepthInterval = time.Second

// depthReporter is implemented by queues that know how many items they hold.
type depthReporter interface {
	Len() int
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for pool lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDepthInterval sets how often Run samples the queue depth gauge.
func WithDepthInterval(every time.Duration) Option {
	return func(d *Dispatcher) {
		if every > 0 {
			d.depthEvery = every
		}
	}
}

// Dispatcher accepts work from the API and runs the workers that drain it.
type Dispatcher struct {
	queue      ingest.Queue
	workers    []*worker.Worker
	logger     *zap.Logger
	depthEvery time.Duration
}

// New creates a Dispatcher over queue. workers may be empty when the caller
// only needs Enqueue.
func New(queue ingest.Queue, workers []*worker.Worker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:      queue,
		workers:    workers,
		logger:     zap.NewNop(),
		depthEvery: defaultDepthInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run blocks until every worker has returned, which happens once ctx ends or
// the queue is closed and drained. While workers run the queue depth gauge is
// refreshed periodically.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("worker pool starting", zap.Int("workers", len(d.workers)))

	var pool sync.WaitGroup
	for i, w := range d.workers {
		pool.Add(1)
		go func(id int, wk *worker.Worker) {
			defer pool.Done()
			wk.Run(ctx)
			d.logger.Debug("worker exited", zap.Int("worker", id))
		}(i, w)
	}

	idle := make(chan struct{})
	go func() {
		pool.Wait()
		close(idle)
	}()

	ticker := time.NewTicker(d.depthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.reportDepth()
		case <-idle:
			d.reportDepth()
			d.logger.Info("worker pool stopped")
			return
		}
	}
}

// Enqueue hands item to the queue for the next free worker.
func (d *Dispatcher) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	if item.EventID == "" || item.Event == nil {
		return ErrInvalidItem
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.reportDepth()
	return nil
}

func (d *Dispatcher) reportDepth() {
	if q, ok := d.queue.(depthReporter); ok {
		metrics.SetQueueDepth(q.Len())
	}
}
