package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS transcription_sessions (
    id          TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ,
    outcome     TEXT         NOT NULL DEFAULT 'running',
    error       TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transcription_sessions_started_at
    ON transcription_sessions (started_at);
`

const ddlEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id          BIGSERIAL         PRIMARY KEY,
    session_id  TEXT              NOT NULL REFERENCES transcription_sessions (id) ON DELETE CASCADE,
    text        TEXT              NOT NULL,
    confidence  DOUBLE PRECISION  NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_timestamp
    ON transcript_entries (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_fts
    ON transcript_entries USING GIN (to_tsvector('simple', text));
`

// Migrate creates the journal tables if they do not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
