package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/store"
)

const (
	defaultRunLimit   = 50
	maxRunLimit       = 500
	defaultStatsLimit = 100
	maxStatsLimit     = 1000
	traceTimeout      = 3 * time.Second
)

// TraceHandler exposes read-only run and step timing endpoints.
type TraceHandler struct {
	repo    store.TraceRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewTraceHandler wires the repository and logger.
func NewTraceHandler(repo store.TraceRepository, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceHandler{
		repo:    repo,
		timeout: traceTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns
// {"runs": [...]} on success, 400 for invalid filters, 503 when the repo is
// unavailable, or 500 if the repository call fails.
func (h *TraceHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "trace repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListEvents(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetEventTrace handles GET /v1/events/{event_id}/trace. It returns the run
// together with its deltas, 400 for malformed ids, 404 when the repository
// reports store.ErrNotFound, 503 without a repository, or 500 otherwise.
func (h *TraceHandler) GetEventTrace(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "trace repository unavailable")
		return
	}
	eventID, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event trace not found")
			return
		}
		h.logger.Error("get event run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load event trace")
		return
	}
	deltas, err := h.repo.ListEventDeltas(ctx, eventID)
	if err != nil {
		h.logger.Error("list event deltas failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load event trace")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":    toRunDTO(run),
		"deltas": toDeltaDTOs(deltas),
	})
}

// ListStepStats handles GET /v1/stats/steps?pipeline=&limit=&offset=.
func (h *TraceHandler) ListStepStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "trace repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultStatsLimit, maxStatsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.repo.ListStepStats(ctx, strings.TrimSpace(r.URL.Query().Get("pipeline")), limit, offset)
	if err != nil {
		h.logger.Error("list step stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list step stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": toStatsDTOs(stats)})
}

func parseEventID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "event_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("event_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid event_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success", "processed":
		return store.RunSuccess, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

type runDTO struct {
	EventID    string     `json:"event_id"`
	Pipeline   string     `json:"pipeline,omitempty"`
	Source     string     `json:"source,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	LastStep   string     `json:"last_step,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

type deltaDTO struct {
	Step       string    `json:"step"`
	Prior      string    `json:"prior"`
	Millis     int64     `json:"millis"`
	RecordedAt time.Time `json:"recorded_at"`
}

type statsDTO struct {
	Pipeline   string    `json:"pipeline"`
	Step       string    `json:"step"`
	Prior      string    `json:"prior"`
	Count      int64     `json:"count"`
	MeanMillis float64   `json:"mean_ms"`
	MinMillis  int64     `json:"min_ms"`
	MaxMillis  int64     `json:"max_ms"`
	Negative   int64     `json:"negative"`
	LastUpdate time.Time `json:"last_update"`
}

func toRunDTOs(in []store.EventRun) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.EventRun) runDTO {
	return runDTO{
		EventID:    run.EventID.String(),
		Pipeline:   run.Pipeline,
		Source:     run.Source,
		ReceivedAt: run.ReceivedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		LastStep:   run.LastStep,
		Error:      run.ErrorMessage,
	}
}

func toDeltaDTOs(in []store.StepDelta) []deltaDTO {
	out := make([]deltaDTO, 0, len(in))
	for _, d := range in {
		out = append(out, deltaDTO{Step: d.Step, Prior: d.Prior, Millis: d.Millis, RecordedAt: d.RecordedAt})
	}
	return out
}

func toStatsDTOs(in []store.StepStats) []statsDTO {
	out := make([]statsDTO, 0, len(in))
	for _, s := range in {
		out = append(out, statsDTO{
			Pipeline:   s.Pipeline,
			Step:       s.Step,
			Prior:      s.Prior,
			Count:      s.Count,
			MeanMillis: s.MeanMillis(),
			MinMillis:  s.MinMillis,
			MaxMillis:  s.MaxMillis,
			Negative:   s.Negative,
			LastUpdate: s.LastUpdate,
		})
	}
	return out
}
