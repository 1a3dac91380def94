package transcribe

import (
	"context"
	"log/slog"
	"sync"
)

// Emitter receives session events. Emit is called sequentially, in event
// order, from the controller's goroutines. It must not block for long and
// must not call back into the [Controller].
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to [Emitter].
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// MultiEmitter fans every event out to each emitter in order.
type MultiEmitter []Emitter

// Emit implements [Emitter].
func (m MultiEmitter) Emit(ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ev)
		}
	}
}

// LogEmitter logs every event. Volatile updates are logged at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements [Emitter].
func (l LogEmitter) Emit(ev Event) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", ev.SessionID)
	switch ev.Kind {
	case EventUpdate:
		level := slog.LevelDebug
		if ev.IsFinal {
			level = slog.LevelInfo
		}
		log.Log(context.Background(), level, "transcript update",
			"final", ev.IsFinal, "confidence", ev.Confidence, "transcript", ev.Transcript)
	case EventError:
		log.Warn(ev.Kind.String(), "error", ev.Message)
	default:
		log.Info(ev.Kind.String())
	}
}

// gate serialises delivery to an Emitter and enforces the per-session
// ordering rules: events of superseded sessions are dropped, and nothing is
// delivered for a session after its terminal event.
type gate struct {
	mu     sync.Mutex
	out    Emitter
	gen    uint64
	closed bool
}

// open makes gen the current session and discards the state of the previous
// one.
func (g *gate) open(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen = gen
	g.closed = false
}

// emit delivers ev for session gen and reports whether it was delivered.
func (g *gate) emit(gen uint64, ev Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen || g.closed {
		return false
	}
	if ev.Kind.Terminal() {
		g.closed = true
	}
	if g.out != nil {
		g.out.Emit(ev)
	}
	return true
}
