package postgres

import (
	"context"
	"fmt"
)

// Schema creates the tables used by EventStore (with the default table name)
// and TraceStore. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	received_at  TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	pipeline     TEXT NOT NULL DEFAULT '',
	event        JSONB,
	tags         TEXT[] NOT NULL DEFAULT '{}',
	last_step    TEXT NOT NULL DEFAULT '',
	archive_uri  TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	message_id   TEXT NOT NULL DEFAULT '',
	error_text   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS event_runs (
	event_id      TEXT PRIMARY KEY,
	pipeline      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	received_at   TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	last_step     TEXT NOT NULL DEFAULT '',
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS event_runs_received_at_idx ON event_runs (received_at DESC);

CREATE TABLE IF NOT EXISTS step_deltas (
	id          BIGSERIAL PRIMARY KEY,
	event_id    TEXT NOT NULL REFERENCES event_runs (event_id) ON DELETE CASCADE,
	pipeline    TEXT NOT NULL,
	step        TEXT NOT NULL,
	prior       TEXT NOT NULL,
	millis      BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS step_deltas_event_id_idx ON step_deltas (event_id);

CREATE TABLE IF NOT EXISTS step_stats (
	pipeline    TEXT NOT NULL,
	step        TEXT NOT NULL,
	prior       TEXT NOT NULL,
	samples     BIGINT NOT NULL,
	total_ms    BIGINT NOT NULL,
	min_ms      BIGINT NOT NULL,
	max_ms      BIGINT NOT NULL,
	negative    BIGINT NOT NULL DEFAULT 0,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pipeline, step, prior)
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, p pool) error {
	if _, err := p.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
