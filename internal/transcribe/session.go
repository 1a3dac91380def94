package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// SessionInfo describes the current session.
type SessionInfo struct {
	// ID is the unique identifier of the session, carried by every event.
	ID string

	// State is the controller state at the time of the call.
	State State

	// StartedAt is when Start was called.
	StartedAt time.Time

	// CaptureFormat is the native device format.
	CaptureFormat audio.Format

	// EngineFormat is the format negotiated with the engine.
	EngineFormat audio.Format

	// Language is the recognition language.
	Language string
}

// session holds the resources of one transcription session. It is built by
// Start and released exactly once by Stop, by the failure path, or by the
// rollback of a failed Start.
type session struct {
	id        string
	gen       uint64
	startedAt time.Time
	native    audio.Format
	format    audio.Format
	language  string
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	input    *audio.InputStream
	handle   stt.SessionHandle
	pipeline *pipeline
	consumer *consumer
	capture  *captureSource

	// closers are called in reverse order on release.
	closers     []func() error
	releaseOnce sync.Once
	releaseErr  error
}

// release runs the registered closers in reverse order and cancels the
// session context. It is idempotent.
func (s *session) release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		s.closers = nil
		if s.cancel != nil {
			s.cancel()
		}
		s.releaseErr = joinErrs(errs)
	})
	return s.releaseErr
}

func (s *session) info(state State) SessionInfo {
	return SessionInfo{
		ID:            s.id,
		State:         state,
		StartedAt:     s.startedAt,
		CaptureFormat: s.native,
		EngineFormat:  s.format,
		Language:      s.language,
	}
}
