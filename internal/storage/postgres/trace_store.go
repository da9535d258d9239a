package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-stage-tracker/internal/store"
)

// TraceStore implements store.TraceRepository using Postgres. It writes to
// the event_runs, step_deltas and step_stats tables.
type TraceStore struct {
	pool pool
}

var _ store.TraceRepository = (*TraceStore)(nil)

// NewTraceStoreWithPool constructs a TraceStore from an existing pool.
func NewTraceStoreWithPool(p pool) (*TraceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TraceStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *TraceStore) Close() {
	s.pool.Close()
}

// UpsertEventStart inserts the run row, leaving an existing row untouched.
func (s *TraceStore) UpsertEventStart(ctx context.Context, eventID uuid.UUID, source string, receivedAt time.Time) error {
	query := `
		INSERT INTO event_runs (event_id, source, received_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, eventID.String(), source, receivedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to upsert event start: %w", err)
	}
	return nil
}

// CompleteEvent marks a run finished.
func (s *TraceStore) CompleteEvent(
	ctx context.Context,
	eventID uuid.UUID,
	pipeline string,
	finishedAt time.Time,
	status store.RunStatus,
	lastStep string,
	errMsg *string,
) error {
	query := `
		UPDATE event_runs
		SET pipeline = $1, finished_at = $2, status = $3, last_step = $4, error_message = $5
		WHERE event_id = $6;
	`
	tag, err := s.pool.Exec(ctx, query, pipeline, finishedAt, string(status), lastStep, errMsg, eventID.String())
	if err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete event %s: %w", eventID, store.ErrNotFound)
	}
	return nil
}

// InsertDeltas copies the deltas of one event into step_deltas.
func (s *TraceStore) InsertDeltas(ctx context.Context, deltas []store.StepDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(deltas))
	for _, d := range deltas {
		rows = append(rows, []any{d.EventID.String(), d.Pipeline, d.Step, d.Prior, d.Millis, d.RecordedAt})
	}
	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"step_deltas"},
		[]string{"event_id", "pipeline", "step", "prior", "millis", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step deltas: %w", err)
	}
	return nil
}

// UpsertStepStats folds delta into the aggregate row for (pipeline, step, prior).
func (s *TraceStore) UpsertStepStats(
	ctx context.Context,
	pipeline,
	step,
	prior string,
	delta store.StepStatsDelta,
) error {
	if delta.Count == 0 {
		return nil
	}
	query := `
		INSERT INTO step_stats (pipeline, step, prior, samples, total_ms, min_ms, max_ms, negative, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pipeline, step, prior) DO UPDATE
		SET samples = step_stats.samples + EXCLUDED.samples,
			total_ms = step_stats.total_ms + EXCLUDED.total_ms,
			min_ms = LEAST(step_stats.min_ms, EXCLUDED.min_ms),
			max_ms = GREATEST(step_stats.max_ms, EXCLUDED.max_ms),
			negative = step_stats.negative + EXCLUDED.negative,
			last_update = GREATEST(step_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		pipeline,
		step,
		prior,
		delta.Count,
		delta.TotalMillis,
		delta.MinMillis,
		delta.MaxMillis,
		delta.Negative,
		delta.At,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert step stats: %w", err)
	}
	return nil
}

const eventRunColumns = `event_id, pipeline, source, received_at, finished_at, status, last_step, error_message`

// GetEvent retrieves a single event run.
func (s *TraceStore) GetEvent(ctx context.Context, eventID uuid.UUID) (store.EventRun, error) {
	query := `SELECT ` + eventRunColumns + ` FROM event_runs WHERE event_id = $1;`
	run, err := scanEventRun(s.pool.QueryRow(ctx, query, eventID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.EventRun{}, store.ErrNotFound
		}
		return store.EventRun{}, fmt.Errorf("failed to get event: %w", err)
	}
	return run, nil
}

// ListEvents retrieves event runs, newest first, with optional status filtering.
func (s *TraceStore) ListEvents(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.EventRun, error) {
	query := `SELECT ` + eventRunColumns + ` FROM event_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3;`
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var runs []store.EventRun
	for rows.Next() {
		run, err := scanEventRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return runs, nil
}

// ListEventDeltas returns the deltas of one event in recording order.
func (s *TraceStore) ListEventDeltas(ctx context.Context, eventID uuid.UUID) ([]store.StepDelta, error) {
	query := `
		SELECT event_id, pipeline, step, prior, millis, recorded_at
		FROM step_deltas
		WHERE event_id = $1
		ORDER BY recorded_at, id;
	`
	rows, err := s.pool.Query(ctx, query, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list event deltas: %w", err)
	}
	defer rows.Close()

	var deltas []store.StepDelta
	for rows.Next() {
		var (
			d  store.StepDelta
			id string
		)
		if err := rows.Scan(&id, &d.Pipeline, &d.Step, &d.Prior, &d.Millis, &d.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delta row: %w", err)
		}
		if d.EventID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		deltas = append(deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list event deltas: %w", err)
	}
	return deltas, nil
}

// ListStepStats returns aggregates for pipeline, or every pipeline when empty.
func (s *TraceStore) ListStepStats(ctx context.Context, pipeline string, limit, offset int) ([]store.StepStats, error) {
	query := `
		SELECT pipeline, step, prior, samples, total_ms, min_ms, max_ms, negative, last_update
		FROM step_stats
		WHERE ($1 = '' OR pipeline = $1)
		ORDER BY pipeline, step, prior
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, pipeline, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list step stats: %w", err)
	}
	defer rows.Close()

	var stats []store.StepStats
	for rows.Next() {
		var st store.StepStats
		err := rows.Scan(
			&st.Pipeline,
			&st.Step,
			&st.Prior,
			&st.Count,
			&st.TotalMillis,
			&st.MinMillis,
			&st.MaxMillis,
			&st.Negative,
			&st.LastUpdate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list step stats: %w", err)
	}
	return stats, nil
}

func scanEventRun(row pgx.Row) (store.EventRun, error) {
	var (
		run    store.EventRun
		id     string
		status string
	)
	err := row.Scan(
		&id,
		&run.Pipeline,
		&run.Source,
		&run.ReceivedAt,
		&run.FinishedAt,
		&status,
		&run.LastStep,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.EventRun{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.EventRun{}, fmt.Errorf("parse event id %q: %w", id, err)
	}
	run.EventID = parsed
	run.Status = store.RunStatus(status)
	return run, nil
}
