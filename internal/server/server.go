// Package server exposes a transcription controller over HTTP.
//
// Routes:
//
//	POST /v1/transcription/start         start a session (204 on success)
//	POST /v1/transcription/stop          stop the session (204 on success)
//	GET  /v1/transcription/availability  {"available": bool}
//	GET  /v1/transcription/status        current state and session
//	GET  /v1/transcription/events        WebSocket stream of events
//	GET  /v1/sessions/search?q=...       full-text search over the journal
//	GET  /v1/sessions/{id}               one journaled session and its entries
//
// Failed requests answer with {"code": ..., "message": ...}. The session
// routes are only registered when a journal store is configured.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/journal"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcribe"
)

// Transcriber is the controller surface served over HTTP.
// [transcribe.Controller] implements it.
type Transcriber interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	QueryAvailability(ctx context.Context) bool
	State() transcribe.State
	Session() (transcribe.SessionInfo, bool)
}

var _ Transcriber = (*transcribe.Controller)(nil)

// Config holds the dependencies of a [Server]. Transcriber and Hub are
// required; the rest are optional.
type Config struct {
	Transcriber Transcriber
	Hub         *Hub

	// Journal enables the /v1/sessions routes.
	Journal journal.Store

	// Health registers /healthz and /readyz.
	Health *health.Handler

	// MetricsHandler is served on GET /metrics.
	MetricsHandler http.Handler

	// Metrics records request durations. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server routes HTTP requests to the controller, the event hub and the
// journal.
type Server struct {
	cfg Config
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{cfg: cfg}
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcription/start", s.handleStart)
	mux.HandleFunc("POST /v1/transcription/stop", s.handleStop)
	mux.HandleFunc("GET /v1/transcription/availability", s.handleAvailability)
	mux.HandleFunc("GET /v1/transcription/status", s.handleStatus)
	mux.Handle("GET /v1/transcription/events", s.cfg.Hub)
	if s.cfg.Journal != nil {
		mux.HandleFunc("GET /v1/sessions/search", s.handleSearch)
		mux.HandleFunc("GET /v1/sessions/{id}", s.handleSession)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
	return observe.Middleware(s.cfg.Metrics)(mux)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Transcriber.Start(r.Context()); err != nil {
		code, status := startError(err)
		observe.Logger(r.Context()).Warn("start request failed", "code", code, "err", err)
		writeError(w, code, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStop keeps stopping when the client goes away; Stop bounds the wait
// itself and a cancelled context would cut the transcript short.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Transcriber.Stop(context.WithoutCancel(r.Context())); err != nil {
		code, status := stopError(err)
		observe.Logger(r.Context()).Warn("stop request failed", "code", code, "err", err)
		writeError(w, code, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Available bool `json:"available"`
	}{s.cfg.Transcriber.QueryAvailability(r.Context())})
}

type sessionStatus struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	CaptureFormat string    `json:"capture_format"`
	EngineFormat  string    `json:"engine_format"`
	Language      string    `json:"language"`
}

type statusResponse struct {
	State   string         `json:"state"`
	Session *sessionStatus `json:"session,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{State: s.cfg.Transcriber.State().String()}
	if info, ok := s.cfg.Transcriber.Session(); ok {
		resp.State = info.State.String()
		resp.Session = &sessionStatus{
			ID:            info.ID,
			StartedAt:     info.StartedAt,
			CaptureFormat: info.CaptureFormat.String(),
			EngineFormat:  info.EngineFormat.String(),
			Language:      info.Language,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionResponse struct {
	journal.Session
	Entries []journal.Entry `json:"entries"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.cfg.Journal.Session(r.Context(), id)
	if err != nil {
		code, status := journalError(err)
		writeError(w, code, status, err)
		return
	}
	entries, err := s.cfg.Journal.Entries(r.Context(), id)
	if err != nil {
		code, status := journalError(err)
		writeError(w, code, status, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Entries: entries})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, CodeBadRequest, http.StatusBadRequest, errors.New("query parameter q is required"))
		return
	}
	opts, err := searchOpts(q.Get("session_id"), q.Get("after"), q.Get("before"), q.Get("limit"))
	if err != nil {
		writeError(w, CodeBadRequest, http.StatusBadRequest, err)
		return
	}
	entries, err := s.cfg.Journal.Search(r.Context(), query, opts)
	if err != nil {
		code, status := journalError(err)
		writeError(w, code, status, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Entries []journal.Entry `json:"entries"`
	}{entries})
}

// searchOpts parses the optional search filters. Times are RFC 3339.
func searchOpts(sessionID, after, before, limit string) (journal.SearchOpts, error) {
	opts := journal.SearchOpts{SessionID: sessionID}
	var err error
	if after != "" {
		if opts.After, err = time.Parse(time.RFC3339, after); err != nil {
			return opts, errors.New("after: want an RFC 3339 timestamp")
		}
	}
	if before != "" {
		if opts.Before, err = time.Parse(time.RFC3339, before); err != nil {
			return opts, errors.New("before: want an RFC 3339 timestamp")
		}
	}
	if limit != "" {
		if opts.Limit, err = strconv.Atoi(limit); err != nil || opts.Limit < 0 {
			return opts, errors.New("limit: want a non-negative integer")
		}
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}
