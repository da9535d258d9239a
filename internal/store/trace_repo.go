package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("trace record not found")

// RunStatus mirrors the event_runs status column.
type RunStatus string

// Run statuses persisted in event_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// EventRun models the event_runs table for API responses.
type EventRun struct {
	// EventID is the identifier assigned at submission.
	EventID uuid.UUID
	// Pipeline is the pipeline id that handled the event, if known.
	Pipeline string
	// Source labels the submitter.
	Source string
	// ReceivedAt captures when the event was accepted.
	ReceivedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// LastStep is the most recent step recorded on the event.
	LastStep string
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// StepDelta is one measured delta for one event.
type StepDelta struct {
	EventID    uuid.UUID
	Pipeline   string
	Step       string
	Prior      string
	Millis     int64
	RecordedAt time.Time
}

// StepStats aggregates deltas per (pipeline, step, prior).
type StepStats struct {
	Pipeline    string
	Step        string
	Prior       string
	Count       int64
	TotalMillis int64
	MinMillis   int64
	MaxMillis   int64
	// Negative counts deltas below zero, which indicate clock skew between
	// stamping hosts.
	Negative   int64
	LastUpdate time.Time
}

// MeanMillis returns the average delta, or 0 with no samples.
func (s StepStats) MeanMillis() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalMillis) / float64(s.Count)
}

// StepStatsDelta is an incremental update applied to StepStats.
type StepStatsDelta struct {
	Count       int64
	TotalMillis int64
	MinMillis   int64
	MaxMillis   int64
	Negative    int64
	At          time.Time
}

// Observe folds one delta into d.
func (d *StepStatsDelta) Observe(ms int64, at time.Time) {
	if d.Count == 0 || ms < d.MinMillis {
		d.MinMillis = ms
	}
	if d.Count == 0 || ms > d.MaxMillis {
		d.MaxMillis = ms
	}
	d.Count++
	d.TotalMillis += ms
	if ms < 0 {
		d.Negative++
	}
	if at.After(d.At) {
		d.At = at
	}
}

// TraceRepository persists event runs and their stage deltas.
type TraceRepository interface {
	// UpsertEventStart inserts (or idempotently updates) the received_at timestamp.
	UpsertEventStart(ctx context.Context, eventID uuid.UUID, source string, receivedAt time.Time) error
	// CompleteEvent marks the run finished with the provided status and error.
	CompleteEvent(
		ctx context.Context,
		eventID uuid.UUID,
		pipeline string,
		finishedAt time.Time,
		status RunStatus,
		lastStep string,
		errMsg *string,
	) error
	// InsertDeltas stores the deltas measured for one event.
	InsertDeltas(ctx context.Context, deltas []StepDelta) error
	// UpsertStepStats applies an aggregate delta per (pipeline, step, prior).
	UpsertStepStats(ctx context.Context, pipeline, step, prior string, delta StepStatsDelta) error

	// GetEvent loads a single event run or returns ErrNotFound.
	GetEvent(ctx context.Context, eventID uuid.UUID) (EventRun, error)
	// ListEvents returns event runs filtered by optional status plus limit/offset.
	ListEvents(ctx context.Context, status *RunStatus, limit, offset int) ([]EventRun, error)
	// ListEventDeltas returns the deltas recorded for one event.
	ListEventDeltas(ctx context.Context, eventID uuid.UUID) ([]StepDelta, error)
	// ListStepStats returns aggregates for one pipeline, or all when empty.
	ListStepStats(ctx context.Context, pipeline string, limit, offset int) ([]StepStats, error)
}
