// Package mock provides an in-memory [journal.Store] for tests.
//
// The store behaves like a real journal (sessions, entries and a
// case-insensitive substring search) and additionally records every method
// call. Set the *Err fields to make individual methods fail.
//
//	store := &mock.Store{}
//	sink := journal.NewSink(store)
//	// ... drive a controller that emits into sink ...
//	if got := store.CallCount("AppendEntry"); got != 2 { ... }
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/internal/journal"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is an in-memory implementation of [journal.Store].
type Store struct {
	mu sync.Mutex

	calls    []Call
	sessions map[string]*journal.Session
	order    []string
	entries  []journal.Entry

	// BeginErr is returned by BeginSession when non-nil.
	BeginErr error

	// AppendErr is returned by AppendEntry when non-nil.
	AppendErr error

	// EndErr is returned by EndSession when non-nil.
	EndErr error

	// ReadErr is returned by Session, Entries and Search when non-nil.
	ReadErr error
}

var _ journal.Store = (*Store)(nil)

// Calls returns a copy of all recorded calls.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was called.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Store) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// BeginSession implements [journal.Store].
func (m *Store) BeginSession(_ context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BeginSession", id, startedAt)
	if m.BeginErr != nil {
		return m.BeginErr
	}
	if m.sessions == nil {
		m.sessions = make(map[string]*journal.Session)
	}
	if _, ok := m.sessions[id]; !ok {
		m.order = append(m.order, id)
	}
	m.sessions[id] = &journal.Session{ID: id, StartedAt: startedAt, Outcome: journal.OutcomeRunning}
	return nil
}

// AppendEntry implements [journal.Store].
func (m *Store) AppendEntry(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AppendEntry", e)
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

// EndSession implements [journal.Store].
func (m *Store) EndSession(_ context.Context, id string, endedAt time.Time, outcome journal.Outcome, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("EndSession", id, endedAt, outcome, errMsg)
	if m.EndErr != nil {
		return m.EndErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return journal.ErrNotFound
	}
	s.EndedAt, s.Outcome, s.Error = endedAt, outcome, errMsg
	return nil
}

// Session implements [journal.Store].
func (m *Store) Session(_ context.Context, id string) (journal.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Session", id)
	if m.ReadErr != nil {
		return journal.Session{}, m.ReadErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return journal.Session{}, journal.ErrNotFound
	}
	return *s, nil
}

// Entries implements [journal.Store].
func (m *Store) Entries(_ context.Context, sessionID string) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Entries", sessionID)
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, journal.ErrNotFound
	}
	out := []journal.Entry{}
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search implements [journal.Store] with a case-insensitive substring match.
func (m *Store) Search(_ context.Context, query string, opts journal.SearchOpts) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", query, opts)
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	q := strings.ToLower(query)
	out := []journal.Entry{}
	for _, e := range m.entries {
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Text), q) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
