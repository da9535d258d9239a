package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/realtime-stage-tracker/internal/store"
)

type statsKey struct {
	pipeline, step, prior string
}

// TraceStore keeps event runs and step statistics in memory. It implements
// store.TraceRepository for deployments without Postgres.
type TraceStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.EventRun
	deltas map[uuid.UUID][]store.StepDelta
	stats  map[statsKey]store.StepStats
}

var _ store.TraceRepository = (*TraceStore)(nil)

// NewTraceStore constructs an empty TraceStore.
func NewTraceStore() *TraceStore {
	return &TraceStore{
		runs:   make(map[uuid.UUID]store.EventRun),
		deltas: make(map[uuid.UUID][]store.StepDelta),
		stats:  make(map[statsKey]store.StepStats),
	}
}

// UpsertEventStart records the run unless it already exists.
func (s *TraceStore) UpsertEventStart(_ context.Context, eventID uuid.UUID, source string, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[eventID]; ok {
		return nil
	}
	s.runs[eventID] = store.EventRun{
		EventID:    eventID,
		Source:     source,
		ReceivedAt: receivedAt,
		Status:     store.RunRunning,
	}
	return nil
}

// CompleteEvent marks a run finished.
func (s *TraceStore) CompleteEvent(
	_ context.Context,
	eventID uuid.UUID,
	pipeline string,
	finishedAt time.Time,
	status store.RunStatus,
	lastStep string,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[eventID]
	if !ok {
		return fmt.Errorf("complete event %s: %w", eventID, store.ErrNotFound)
	}
	run.Pipeline = pipeline
	run.FinishedAt = &finishedAt
	run.Status = status
	run.LastStep = lastStep
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[eventID] = run
	return nil
}

// InsertDeltas appends deltas to their events.
func (s *TraceStore) InsertDeltas(_ context.Context, deltas []store.StepDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		s.deltas[d.EventID] = append(s.deltas[d.EventID], d)
	}
	return nil
}

// UpsertStepStats folds delta into the aggregate.
func (s *TraceStore) UpsertStepStats(_ context.Context, pipeline, step, prior string, delta store.StepStatsDelta) error {
	if delta.Count == 0 {
		return nil
	}
	key := statsKey{pipeline, step, prior}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[key]
	if !ok {
		st = store.StepStats{
			Pipeline:  pipeline,
			Step:      step,
			Prior:     prior,
			MinMillis: delta.MinMillis,
			MaxMillis: delta.MaxMillis,
		}
	}
	st.Count += delta.Count
	st.TotalMillis += delta.TotalMillis
	st.Negative += delta.Negative
	st.MinMillis = min(st.MinMillis, delta.MinMillis)
	st.MaxMillis = max(st.MaxMillis, delta.MaxMillis)
	if delta.At.After(st.LastUpdate) {
		st.LastUpdate = delta.At
	}
	s.stats[key] = st
	return nil
}

// GetEvent returns a run or store.ErrNotFound.
func (s *TraceStore) GetEvent(_ context.Context, eventID uuid.UUID) (store.EventRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[eventID]
	if !ok {
		return store.EventRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListEvents returns runs newest first.
func (s *TraceStore) ListEvents(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.EventRun, error) {
	s.mu.RLock()
	runs := make([]store.EventRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].ReceivedAt.Equal(runs[j].ReceivedAt) {
			return runs[i].EventID.String() > runs[j].EventID.String()
		}
		return runs[i].ReceivedAt.After(runs[j].ReceivedAt)
	})
	return page(runs, limit, offset), nil
}

// ListEventDeltas returns the deltas of one event in insertion order.
func (s *TraceStore) ListEventDeltas(_ context.Context, eventID uuid.UUID) ([]store.StepDelta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.StepDelta(nil), s.deltas[eventID]...), nil
}

// ListStepStats returns aggregates sorted by pipeline, step and prior.
func (s *TraceStore) ListStepStats(_ context.Context, pipeline string, limit, offset int) ([]store.StepStats, error) {
	s.mu.RLock()
	stats := make([]store.StepStats, 0, len(s.stats))
	for key, st := range s.stats {
		if pipeline != "" && key.pipeline != pipeline {
			continue
		}
		stats = append(stats, st)
	}
	s.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Pipeline != b.Pipeline {
			return a.Pipeline < b.Pipeline
		}
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		return a.Prior < b.Prior
	})
	return page(stats, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
