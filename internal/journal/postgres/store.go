// Package postgres is a PostgreSQL-backed [journal.Store].
//
// Sessions live in transcription_sessions, final transcript segments in
// transcript_entries with a GIN full-text index used by Search. [NewStore]
// runs [Migrate] so the schema is created on first use.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	sink := journal.NewSink(store)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/livescribe/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store implements [journal.Store] on a [pgxpool.Pool]. Safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and migrates the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. It backs the readiness
// check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// BeginSession implements [journal.Store]. Beginning a known session again
// resets it to running.
func (s *Store) BeginSession(ctx context.Context, id string, startedAt time.Time) error {
	const q = `
		INSERT INTO transcription_sessions (id, started_at, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		    SET started_at = EXCLUDED.started_at, ended_at = NULL, outcome = EXCLUDED.outcome, error = ''`

	if _, err := s.pool.Exec(ctx, q, id, startedAt, string(journal.OutcomeRunning)); err != nil {
		return fmt.Errorf("journal store: begin session: %w", err)
	}
	return nil
}

// AppendEntry implements [journal.Store].
func (s *Store) AppendEntry(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO transcript_entries (session_id, text, confidence, timestamp)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, e.SessionID, e.Text, e.Confidence, e.Timestamp); err != nil {
		return fmt.Errorf("journal store: append entry: %w", err)
	}
	return nil
}

// EndSession implements [journal.Store].
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, outcome journal.Outcome, errMsg string) error {
	const q = `
		UPDATE transcription_sessions
		SET    ended_at = $2, outcome = $3, error = $4
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, endedAt, string(outcome), errMsg)
	if err != nil {
		return fmt.Errorf("journal store: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("journal store: end session %s: %w", id, journal.ErrNotFound)
	}
	return nil
}

// Session implements [journal.Store].
func (s *Store) Session(ctx context.Context, id string) (journal.Session, error) {
	const q = `
		SELECT id, started_at, ended_at, outcome, error
		FROM   transcription_sessions
		WHERE  id = $1`

	var (
		rec     journal.Session
		ended   *time.Time
		outcome string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.StartedAt, &ended, &outcome, &rec.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.Session{}, journal.ErrNotFound
	}
	if err != nil {
		return journal.Session{}, fmt.Errorf("journal store: get session: %w", err)
	}
	if ended != nil {
		rec.EndedAt = *ended
	}
	rec.Outcome = journal.Outcome(outcome)
	return rec, nil
}

// Entries implements [journal.Store].
func (s *Store) Entries(ctx context.Context, sessionID string) ([]journal.Entry, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	const q = `
		SELECT session_id, text, confidence, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal store: entries: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [journal.Store]. query is passed to plainto_tsquery, so
// no operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts journal.SearchOpts) ([]journal.Entry, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}

	q := "SELECT session_id, text, confidence, timestamp\n" +
		"FROM   transcript_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal store: search: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]journal.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var e journal.Entry
		err := row.Scan(&e.SessionID, &e.Text, &e.Confidence, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("journal store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}
