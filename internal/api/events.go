package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
	"github.com/JakeFAU/realtime-stage-tracker/internal/metrics"
	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
	"github.com/JakeFAU/realtime-stage-tracker/internal/timing"
)

const (
	defaultSourceHeader = "X-Source"
	defaultMaxBodyBytes = 4 << 20
	defaultMaxBatch     = 500
)

// Submission outcomes used as metric labels.
const (
	outcomeAccepted    = "accepted"
	outcomeRejected    = "rejected"
	outcomeRateLimited = "rate_limited"
)

var errEmptyBody = errors.New("request body must be a JSON object or a non-empty array of objects")

type submitResponse struct {
	EventIDs []string `json:"event_ids"`
}

// submitEvents accepts one JSON object or an array of objects. Every event is
// stored as queued, enqueued, and answered with its id; the whole request
// fails if any element is not an object.
func (s *Server) submitEvents(w http.ResponseWriter, r *http.Request) {
	source := s.source(r)
	if s.admission != nil && !s.admission.Allow(source) {
		metrics.ObserveSubmission(source, outcomeRateLimited, 1)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	raws, status, err := s.decodeSubmission(w, r)
	if err != nil {
		metrics.ObserveSubmission(source, outcomeRejected, 1)
		writeError(w, status, err.Error())
		return
	}
	events := make([]*event.Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := event.Parse(raw)
		if err != nil {
			metrics.ObserveSubmission(source, outcomeRejected, len(raws))
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: expected a JSON object", i))
			return
		}
		events = append(events, ev)
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		id, err := s.accept(r.Context(), source, ev)
		if err != nil {
			s.logger.Error("accept event failed", zap.String("source", source), zap.Error(err))
			metrics.ObserveSubmission(source, outcomeAccepted, len(ids))
			metrics.ObserveSubmission(source, outcomeRejected, len(events)-len(ids))
			status := http.StatusInternalServerError
			if errors.Is(err, ingest.ErrQueueClosed) || errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, map[string]any{"error": err.Error(), "event_ids": ids})
			return
		}
		ids = append(ids, id)
	}
	metrics.ObserveSubmission(source, outcomeAccepted, len(ids))
	writeJSON(w, http.StatusAccepted, submitResponse{EventIDs: ids})
}

// accept stamps, records and enqueues one event.
func (s *Server) accept(ctx context.Context, source string, ev *event.Event) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	now := s.clock.Now()
	if !ev.Include(event.Field(event.TimestampField)) {
		if err := ev.Set(event.Field(event.TimestampField), now); err != nil {
			return "", fmt.Errorf("stamp event: %w", err)
		}
	}
	rec := ingest.Record{
		ID:       id,
		Status:   ingest.StatusQueued,
		Source:   source,
		Received: now,
		Event:    ev.ToMap(),
	}
	if err := s.events.CreateRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}

	// Received must reach the emitter before any worker stage for this id.
	s.emitStage(id, progress.Event{TS: now, Stage: progress.StageEventReceived, Source: source})

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := ingest.QueueItem{
		EventID:   id,
		Event:     ev,
		Source:    source,
		Submitted: now.UnixNano(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		rec.Status = ingest.StatusFailed
		rec.ErrorText = err.Error()
		if updErr := s.events.UpdateRecord(ctx, rec); updErr != nil {
			s.logger.Warn("mark unqueued event failed", zap.String("event_id", id), zap.Error(updErr))
		}
		s.emitStage(id, progress.Event{TS: s.clock.Now(), Stage: progress.StageEventFailed, Source: source, Note: rec.ErrorText})
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	return id, nil
}

func (s *Server) emitStage(id string, evt progress.Event) {
	eventID, err := progress.ParseEventID(id)
	if err != nil {
		return
	}
	evt.EventID = eventID
	s.emitter.Emit(evt)
}

// source identifies the submitter from the configured header, falling back to
// the source query parameter.
func (s *Server) source(r *http.Request) string {
	header := s.cfg.Ingest.SourceHeader
	if header == "" {
		header = defaultSourceHeader
	}
	src := strings.TrimSpace(r.Header.Get(header))
	if src == "" {
		src = strings.TrimSpace(r.URL.Query().Get("source"))
	}
	return src
}

// decodeSubmission returns the raw objects of the body along with the HTTP
// status to answer when decoding fails.
func (s *Server) decodeSubmission(w http.ResponseWriter, r *http.Request) ([]json.RawMessage, int, error) {
	limit := s.cfg.Ingest.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", limit)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("read body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, http.StatusBadRequest, errEmptyBody
	}

	switch body[0] {
	case '{':
		if !json.Valid(body) {
			return nil, http.StatusBadRequest, errors.New("invalid JSON")
		}
		return []json.RawMessage{body}, 0, nil
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, http.StatusBadRequest, errors.New("invalid JSON")
		}
		if len(raws) == 0 {
			return nil, http.StatusBadRequest, errEmptyBody
		}
		maxBatch := s.cfg.Ingest.MaxBatch
		if maxBatch <= 0 {
			maxBatch = defaultMaxBatch
		}
		if len(raws) > maxBatch {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("batch of %d exceeds limit of %d", len(raws), maxBatch)
		}
		return raws, 0, nil
	default:
		return nil, http.StatusBadRequest, errEmptyBody
	}
}

func (s *Server) currentPipeline(w http.ResponseWriter) *pipeline.Pipeline {
	var p *pipeline.Pipeline
	if s.pipelines != nil {
		p = s.pipelines.Load()
	}
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not loaded")
	}
	return p
}

func (s *Server) getPipeline(w http.ResponseWriter, _ *http.Request) {
	p := s.currentPipeline(w)
	if p == nil {
		return
	}
	ledgers := make([]string, 0)
	for _, l := range p.Ledgers() {
		ledgers = append(ledgers, l.Container().String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              p.ID(),
		"filters":         p.Filters(),
		"tracking_fields": ledgers,
	})
}

type simulateResponse struct {
	Pipeline string         `json:"pipeline"`
	Event    *event.Event   `json:"event"`
	Tags     []string       `json:"tags"`
	LastStep string         `json:"last_step"`
	Deltas   []timing.Delta `json:"deltas"`
}

// simulate runs the current pipeline over one event without storing,
// archiving or publishing it.
func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	p := s.currentPipeline(w)
	if p == nil {
		return
	}
	raws, status, err := s.decodeSubmission(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	if len(raws) != 1 {
		writeError(w, http.StatusBadRequest, "simulate accepts exactly one event")
		return
	}
	ev, err := event.Parse(raws[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a JSON object")
		return
	}
	ev = p.Process(ev)
	deltas, last := p.Trace(ev)
	if deltas == nil {
		deltas = []timing.Delta{}
	}
	tags := ev.Tags()
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, simulateResponse{
		Pipeline: p.ID(),
		Event:    ev,
		Tags:     tags,
		LastStep: last,
		Deltas:   deltas,
	})
}
