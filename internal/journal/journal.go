// Package journal records transcription sessions and their final transcripts
// for later retrieval.
//
// Only final transcript updates are journaled; volatile updates are
// superseded by later results and are not stored. A [Sink] adapts any
// [Store] to the event stream of a transcription controller.
//
// Every Store implementation must be safe for concurrent use.
package journal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session is not in the journal.
var ErrNotFound = errors.New("journal: session not found")

// Outcome is how a journaled session ended.
type Outcome string

const (
	// OutcomeRunning marks a session that has not ended (or whose end was
	// never recorded, e.g. after a crash).
	OutcomeRunning Outcome = "running"

	// OutcomeStopped marks a session ended by Stop.
	OutcomeStopped Outcome = "stopped"

	// OutcomeFailed marks a session ended by an engine failure.
	OutcomeFailed Outcome = "failed"
)

// Session is the journal record of one transcription session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	// EndedAt is zero while the session is running.
	EndedAt time.Time `json:"ended_at,omitzero"`
	Outcome Outcome   `json:"outcome"`
	// Error is the failure message of a failed session.
	Error string `json:"error,omitempty"`
}

// Entry is one final transcript segment.
type Entry struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// SearchOpts narrows a full-text search. All non-zero fields are applied as
// AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to one session.
	SessionID string

	// After and Before bound the entry timestamp (exclusive). Zero disables
	// the bound.
	After  time.Time
	Before time.Time

	// Limit caps the number of results. 0 means no limit.
	Limit int
}

// Store persists sessions and their entries.
type Store interface {
	// BeginSession records the start of a session.
	BeginSession(ctx context.Context, id string, startedAt time.Time) error

	// AppendEntry appends a final transcript segment to its session.
	AppendEntry(ctx context.Context, e Entry) error

	// EndSession records how a session ended. errMsg is empty unless
	// outcome is OutcomeFailed.
	EndSession(ctx context.Context, id string, endedAt time.Time, outcome Outcome, errMsg string) error

	// Session returns the record of session id, or ErrNotFound.
	Session(ctx context.Context, id string) (Session, error)

	// Entries returns every entry of a session, oldest first. An unknown
	// session yields ErrNotFound.
	Entries(ctx context.Context, sessionID string) ([]Entry, error)

	// Search returns entries whose text matches query, oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
}
