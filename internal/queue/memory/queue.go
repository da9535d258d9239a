// Package memory holds the in-process queue between the API and the workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
)

// Queue is a bounded FIFO of accepted events. Enqueue waits for room and
// Dequeue waits for work; both give up when their context ends.
type Queue struct {
	items chan ingest.QueueItem

	mu     sync.RWMutex
	closed bool
}

// NewQueue returns a queue that holds up to capacity events. A capacity of
// zero makes every Enqueue wait for a worker.
func NewQueue(capacity int) *Queue {
	return &Queue{items: make(chan ingest.QueueItem, max(capacity, 0))}
}

// Enqueue adds item, returning ingest.ErrQueueClosed after Close.
func (q *Queue) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	// The read lock keeps Close from closing items under a pending send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ingest.ErrQueueClosed
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", item.EventID, ctx.Err())
	}
}

// Dequeue returns the oldest event. Once the queue is closed and empty it
// returns ingest.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return ingest.QueueItem{}, ingest.ErrQueueClosed
		}
		return item, nil
	case <-ctx.Done():
		return ingest.QueueItem{}, fmt.Errorf("dequeue: %w", ctx.Err())
	}
}

// Len is the number of events waiting for a worker.
func (q *Queue) Len() int { return len(q.items) }

// Cap is the configured capacity.
func (q *Queue) Cap() int { return cap(q.items) }

// Close stops intake. Events already queued remain available to Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
}
