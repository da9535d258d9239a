package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
	"github.com/JakeFAU/realtime-stage-tracker/internal/store"
)

// StoreSink persists event runs and step deltas via a store.TraceRepository.
// It collapses step aggregates per batch to reduce write amplification.
type StoreSink struct {
	repo   store.TraceRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.TraceRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle milestones, raw deltas and collapsed step
// aggregates to the repository. A failing milestone does not stop the rest of
// the batch; every failure is joined into the returned error. Completions for
// runs that were never started (their EVENT_RECEIVED was dropped upstream) are
// logged and skipped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*store.StepStatsDelta)
	var deltas []store.StepDelta
	var errs []error

	for _, evt := range batch {
		eventID := evt.EventUUID()
		switch evt.Stage {
		case progress.StageEventReceived, progress.StageEventProcessed, progress.StageEventFailed:
			err := s.handleLifecycle(ctx, eventID, evt)
			switch {
			case err == nil:
			case errors.Is(err, store.ErrNotFound):
				s.logger.Warn("skipping completion for untracked run",
					zap.Stringer("event_id", eventID),
					zap.String("stage", string(evt.Stage)))
			default:
				errs = append(errs, err)
			}
		case progress.StageStepDelta:
			deltas = append(deltas, store.StepDelta{
				EventID:    eventID,
				Pipeline:   evt.Pipeline,
				Step:       evt.Step,
				Prior:      evt.Prior,
				Millis:     evt.Millis,
				RecordedAt: evt.TS,
			})
			recordStepStats(stats, evt)
		}
	}

	if len(deltas) > 0 {
		if err := s.repo.InsertDeltas(ctx, deltas); err != nil {
			errs = append(errs, fmt.Errorf("insert deltas: %w", err))
		}
	}
	for key, delta := range stats {
		if err := s.repo.UpsertStepStats(ctx, key.pipeline, key.step, key.prior, *delta); err != nil {
			errs = append(errs, fmt.Errorf("upsert step stats: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *StoreSink) handleLifecycle(ctx context.Context, eventID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageEventReceived:
		if err := s.repo.UpsertEventStart(ctx, eventID, evt.Source, evt.TS); err != nil {
			return fmt.Errorf("upsert event start: %w", err)
		}
	case progress.StageEventProcessed:
		if err := s.repo.CompleteEvent(ctx, eventID, evt.Pipeline, evt.TS, store.RunSuccess, evt.Step, nil); err != nil {
			return fmt.Errorf("complete event: %w", err)
		}
	case progress.StageEventFailed:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteEvent(ctx, eventID, evt.Pipeline, evt.TS, store.RunError, evt.Step, note); err != nil {
			return fmt.Errorf("complete event: %w", err)
		}
	}
	return nil
}

func recordStepStats(stats map[statsKey]*store.StepStatsDelta, evt progress.Event) {
	key := statsKey{pipeline: evt.Pipeline, step: evt.Step, prior: evt.Prior}
	stat := stats[key]
	if stat == nil {
		stat = &store.StepStatsDelta{}
		stats[key] = stat
	}
	stat.Observe(evt.Millis, evt.TS)
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	pipeline string
	step     string
	prior    string
}
