// Package worker implements the event processing loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
	"github.com/JakeFAU/realtime-stage-tracker/internal/metrics"
	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
	"github.com/JakeFAU/realtime-stage-tracker/internal/timing"
)

const (
	defaultRetryBackoff = 100 * time.Millisecond
	tracerName          = "github.com/JakeFAU/realtime-stage-tracker/internal/worker"
)

// Config controls Worker behavior.
type Config struct {
	ContentType   string
	ArchivePrefix string
	Topic         string
	MaxRetries    int
	RetryBackoff  time.Duration
	// Tracer opens one span per event; nil uses the global provider.
	Tracer trace.Tracer
}

// Worker consumes queue items and runs them through the current pipeline.
type Worker struct {
	queue     ingest.Queue
	events    ingest.EventStore
	blobs     ingest.BlobStore
	publisher ingest.Publisher
	pipelines ingest.PipelineSource
	hasher    ingest.Hasher
	clock     ingest.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue ingest.Queue,
	events ingest.EventStore,
	blobs ingest.BlobStore,
	publisher ingest.Publisher,
	pipelines ingest.PipelineSource,
	hasher ingest.Hasher,
	clock ingest.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Worker{
		queue:     queue,
		events:    events,
		blobs:     blobs,
		publisher: publisher,
		pipelines: pipelines,
		hasher:    hasher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ingest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued event", zap.String("event_id", item.EventID))
		w.Process(ctx, item)
	}
}

// Process runs one item to completion and returns its final record. The
// whole trip, archive and publish included, runs inside an "event.process"
// span.
func (w *Worker) Process(ctx context.Context, item ingest.QueueItem) ingest.Record {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := w.cfg.Tracer.Start(ctx, "event.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.id", item.EventID),
			attribute.String("event.source", item.Source),
		))
	defer span.End()

	rec := w.process(ctx, item)
	span.SetAttributes(
		attribute.String("event.pipeline", rec.Pipeline),
		attribute.String("event.last_step", rec.LastStep),
		attribute.String("event.status", string(rec.Status)),
	)
	if rec.Status != ingest.StatusProcessed {
		span.SetStatus(codes.Error, rec.ErrorText)
	}
	return rec
}

func (w *Worker) process(ctx context.Context, item ingest.QueueItem) ingest.Record {
	start := w.clock.Now()
	rec := w.loadRecord(ctx, item)
	rec.Status = ingest.StatusProcessing
	if err := w.events.UpdateRecord(ctx, rec); err != nil {
		w.logger.Error("update record status failed", zap.String("event_id", item.EventID), zap.Error(err))
		return rec
	}

	var p *pipeline.Pipeline
	if w.pipelines != nil {
		p = w.pipelines.Load()
	}
	if p == nil {
		return w.fail(ctx, rec, start, "", errors.New("no pipeline configured"))
	}
	rec.Pipeline = p.ID()
	if item.Event == nil {
		return w.fail(ctx, rec, start, "", errors.New("event payload is empty"))
	}

	ev := p.Process(item.Event)
	deltas, lastStep := p.Trace(ev)
	rec.Event = ev.ToMap()
	rec.Tags = ev.Tags()
	rec.LastStep = lastStep
	recordDeltas(trace.SpanFromContext(ctx), deltas)

	if err := w.persistAndPublish(ctx, &rec, deltas); err != nil {
		return w.fail(ctx, rec, start, lastStep, err)
	}

	finished := w.clock.Now()
	rec.Status = ingest.StatusProcessed
	rec.Processed = &finished
	rec.ErrorText = ""
	if err := w.events.UpdateRecord(ctx, rec); err != nil {
		w.logger.Error("final record update failed", zap.String("event_id", rec.ID), zap.Error(err))
	}

	w.emitDeltas(rec, deltas, finished)
	w.emit(rec, progress.Event{
		TS:    finished,
		Stage: progress.StageEventProcessed,
		Step:  lastStep,
		Tags:  rec.Tags,
		Dur:   nonNegative(finished.Sub(start)),
	})
	metrics.ObserveEvent(string(ingest.StatusProcessed))
	w.logger.Debug("event processed",
		zap.String("event_id", rec.ID),
		zap.String("pipeline", rec.Pipeline),
		zap.String("last_step", lastStep),
		zap.Int("deltas", len(deltas)),
	)
	return rec
}

func recordDeltas(span trace.Span, deltas []timing.Delta) {
	for _, d := range deltas {
		span.AddEvent("step_delta", trace.WithAttributes(
			attribute.String("step", d.Step),
			attribute.String("prior", d.Prior),
			attribute.Int64("millis", d.Millis),
		))
	}
}

func (w *Worker) loadRecord(ctx context.Context, item ingest.QueueItem) ingest.Record {
	rec, err := w.events.GetRecord(ctx, item.EventID)
	if err == nil {
		return rec
	}
	if !errors.Is(err, ingest.ErrNotFound) {
		w.logger.Warn("load record failed", zap.String("event_id", item.EventID), zap.Error(err))
	}
	rec = ingest.Record{
		ID:       item.EventID,
		Status:   ingest.StatusQueued,
		Source:   item.Source,
		Received: time.Unix(0, item.Submitted).UTC(),
	}
	if item.Submitted == 0 {
		rec.Received = w.clock.Now()
	}
	if err := w.events.CreateRecord(ctx, rec); err != nil {
		w.logger.Warn("create record failed", zap.String("event_id", item.EventID), zap.Error(err))
	}
	return rec
}

func (w *Worker) fail(ctx context.Context, rec ingest.Record, start time.Time, lastStep string, cause error) ingest.Record {
	finished := w.clock.Now()
	rec.Status = ingest.StatusFailed
	rec.ErrorText = cause.Error()
	rec.Processed = &finished
	w.logger.Error("event processing failed", zap.String("event_id", rec.ID), zap.Error(cause))
	if err := w.events.UpdateRecord(ctx, rec); err != nil {
		w.logger.Error("fail record update failed", zap.String("event_id", rec.ID), zap.Error(err))
	}
	w.emit(rec, progress.Event{
		TS:    finished,
		Stage: progress.StageEventFailed,
		Step:  lastStep,
		Tags:  rec.Tags,
		Dur:   nonNegative(finished.Sub(start)),
		Note:  rec.ErrorText,
	})
	metrics.ObserveEvent(string(ingest.StatusFailed))
	return rec
}

func (w *Worker) buildArchivePath(eventID, hash string, at time.Time) string {
	name := fmt.Sprintf("%s/%s/%s.json", at.UTC().Format("2006-01-02"), eventID, hash)
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (w *Worker) persistAndPublish(ctx context.Context, rec *ingest.Record, deltas []timing.Delta) error {
	body, err := event.FromMap(rec.Event).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if w.blobs != nil {
		if w.hasher == nil {
			return errors.New("archive requires a hasher")
		}
		hash, err := w.hasher.Hash(body)
		if err != nil {
			return fmt.Errorf("hash event: %w", err)
		}
		path := w.buildArchivePath(rec.ID, hash, w.clock.Now())
		var uri string
		err = w.retry(ctx, "archive", func() error {
			var putErr error
			uri, putErr = w.blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
			return putErr
		})
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
		rec.ArchiveURI = uri
		rec.ContentHash = hash
	}

	return w.publishResult(ctx, rec, deltas)
}

func (w *Worker) publishResult(ctx context.Context, rec *ingest.Record, deltas []timing.Delta) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	if deltas == nil {
		deltas = []timing.Delta{}
	}
	payload := map[string]any{
		"event_id":    rec.ID,
		"pipeline":    rec.Pipeline,
		"source":      rec.Source,
		"last_step":   rec.LastStep,
		"tags":        rec.Tags,
		"deltas":      deltas,
		"event":       rec.Event,
		"archive_uri": rec.ArchiveURI,
		"hash":        rec.ContentHash,
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	var msgID string
	err := w.retry(ctx, "publish", func() error {
		var pubErr error
		msgID, pubErr = w.publisher.Publish(ctx, w.cfg.Topic, payload)
		return pubErr
	})
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	rec.MessageID = msgID
	w.logger.Info("event published",
		zap.String("event_id", rec.ID),
		zap.String("pipeline", rec.Pipeline),
		zap.String("message_id", msgID),
		zap.String("archive_uri", rec.ArchiveURI),
	)
	return nil
}

// retry runs fn up to MaxRetries+1 times with exponential backoff.
func (w *Worker) retry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ObserveRetry(operation)
			backoff := w.cfg.RetryBackoff << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s retry canceled: %w", operation, ctx.Err())
			case <-timer.C:
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		w.logger.Warn("attempt failed",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

func (w *Worker) emitDeltas(rec ingest.Record, deltas []timing.Delta, at time.Time) {
	for _, d := range deltas {
		w.emit(rec, progress.Event{
			TS:     at,
			Stage:  progress.StageStepDelta,
			Step:   d.Step,
			Prior:  d.Prior,
			Millis: d.Millis,
		})
	}
}

func (w *Worker) emit(rec ingest.Record, evt progress.Event) {
	id, err := progress.ParseEventID(rec.ID)
	if err != nil {
		return
	}
	evt.EventID = id
	evt.Pipeline = rec.Pipeline
	evt.Source = rec.Source
	w.emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
