package ingest

import (
	"errors"
	"time"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
)

// Sentinel errors shared by store and queue implementations.
var (
	ErrNotFound    = errors.New("event record not found")
	ErrQueueClosed = errors.New("queue closed")
)

// Status represents the lifecycle state of a submitted event.
type Status string

// Status values persisted in the event store.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Record is the metadata persisted for each submitted event.
type Record struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	Source      string         `json:"source,omitempty"`
	Received    time.Time      `json:"received_at"`
	Processed   *time.Time     `json:"processed_at,omitempty"`
	Pipeline    string         `json:"pipeline,omitempty"`
	Event       map[string]any `json:"event,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	LastStep    string         `json:"last_step,omitempty"`
	ArchiveURI  string         `json:"archive_uri,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	ErrorText   string         `json:"error_text,omitempty"`
}

// QueueItem wraps an event ready to run through the pipeline.
type QueueItem struct {
	EventID   string
	Event     *event.Event
	Source    string
	// Submitted is the acceptance time in Unix nanoseconds.
	Submitted int64
}
