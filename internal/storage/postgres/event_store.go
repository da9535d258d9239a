package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
)

// EventStore persists submission records into Postgres. The event body is
// stored as jsonb.
type EventStore struct {
	pool  pool
	table string
}

// NewEventStoreWithPool constructs a store from an existing pool.
func NewEventStoreWithPool(p pool, table string) (*EventStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, "events")
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRecord inserts a new record.
func (s *EventStore) CreateRecord(ctx context.Context, rec ingest.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	body, err := marshalEvent(rec.Event)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	status,
	source,
	received_at,
	processed_at,
	pipeline,
	event,
	tags,
	last_step,
	archive_uri,
	content_hash,
	message_id,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)
	args := []any{
		rec.ID,
		string(rec.Status),
		rec.Source,
		rec.Received,
		rec.Processed,
		rec.Pipeline,
		body,
		tagsOrEmpty(rec.Tags),
		rec.LastStep,
		rec.ArchiveURI,
		rec.ContentHash,
		rec.MessageID,
		rec.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event record: %w", err)
	}
	return nil
}

// UpdateRecord overwrites the mutable columns of an existing record.
func (s *EventStore) UpdateRecord(ctx context.Context, rec ingest.Record) error {
	body, err := marshalEvent(rec.Event)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	processed_at = $3,
	pipeline = $4,
	event = $5,
	tags = $6,
	last_step = $7,
	archive_uri = $8,
	content_hash = $9,
	message_id = $10,
	error_text = $11
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Status),
		rec.Processed,
		rec.Pipeline,
		body,
		tagsOrEmpty(rec.Tags),
		rec.LastStep,
		rec.ArchiveURI,
		rec.ContentHash,
		rec.MessageID,
		rec.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("update event record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", rec.ID, ingest.ErrNotFound)
	}
	return nil
}

// GetRecord loads a record by id.
func (s *EventStore) GetRecord(ctx context.Context, id string) (ingest.Record, error) {
	query := fmt.Sprintf(`
SELECT id, status, source, received_at, processed_at, pipeline, event, tags,
	last_step, archive_uri, content_hash, message_id, error_text
FROM %s
WHERE id = $1`, s.table)

	var (
		rec       ingest.Record
		status    string
		processed *time.Time
		body      []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&status,
		&rec.Source,
		&rec.Received,
		&processed,
		&rec.Pipeline,
		&body,
		&rec.Tags,
		&rec.LastStep,
		&rec.ArchiveURI,
		&rec.ContentHash,
		&rec.MessageID,
		&rec.ErrorText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Record{}, ingest.ErrNotFound
		}
		return ingest.Record{}, fmt.Errorf("get event record: %w", err)
	}
	rec.Status = ingest.Status(status)
	rec.Processed = processed
	if len(body) > 0 {
		if err := json.Unmarshal(body, &rec.Event); err != nil {
			return ingest.Record{}, fmt.Errorf("decode event body: %w", err)
		}
	}
	return rec, nil
}

func marshalEvent(body map[string]any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal event body: %w", err)
	}
	return data, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
