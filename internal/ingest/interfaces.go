package ingest

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
)

// EventStore persists event records.
type EventStore interface {
	CreateRecord(ctx context.Context, rec Record) error
	UpdateRecord(ctx context.Context, rec Record) error
	GetRecord(ctx context.Context, id string) (Record, error)
}

// BlobStore archives processed events and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes processed events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for submitted events.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// PipelineSource returns the pipeline currently in force.
type PipelineSource interface {
	Load() *pipeline.Pipeline
}

// Admission decides whether a source may submit more events right now.
type Admission interface {
	Allow(source string) bool
}

// Hasher computes digests of archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs.
type IDGenerator interface {
	NewID() (string, error)
}
