package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcribe"
)

const (
	defaultSinkBuffer   = 256
	defaultWriteTimeout = 5 * time.Second
)

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithBuffer sets how many events may wait for the store. Default: 256.
func WithBuffer(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithWriteTimeout bounds each store call. Default: 5s.
func WithWriteTimeout(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithMetrics records events the sink had to drop.
func WithMetrics(m *observe.Metrics) SinkOption {
	return func(s *Sink) { s.metrics = m }
}

// Sink is a [transcribe.Emitter] that writes session events to a [Store] on
// its own goroutine. Emit never waits for the store; when the buffer is full
// the event is dropped and counted.
type Sink struct {
	store        Store
	buffer       int
	writeTimeout time.Duration
	metrics      *observe.Metrics

	mu     sync.RWMutex
	closed bool
	events chan transcribe.Event
	done   chan struct{}
}

var _ transcribe.Emitter = (*Sink)(nil)

// NewSink starts a Sink writing to store. Call Close to flush and stop it.
func NewSink(store Store, opts ...SinkOption) *Sink {
	s := &Sink{
		store:        store,
		buffer:       defaultSinkBuffer,
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.events = make(chan transcribe.Event, s.buffer)
	go s.run()
	return s
}

// Emit implements [transcribe.Emitter]. Volatile updates are ignored.
func (s *Sink) Emit(ev transcribe.Event) {
	if ev.Kind == transcribe.EventUpdate && !ev.IsFinal {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		if s.metrics != nil {
			s.metrics.RecordEventDropped(context.Background(), "journal")
		}
		slog.Warn("journal: buffer full, dropping event", "session_id", ev.SessionID, "event", ev.Kind.String())
	}
}

// Close stops accepting events, waits until buffered events are written and
// returns. Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.write(ev); err != nil {
			slog.Warn("journal: write failed", "session_id", ev.SessionID, "event", ev.Kind.String(), "err", err)
		}
	}
}

func (s *Sink) write(ev transcribe.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	switch ev.Kind {
	case transcribe.EventStarted:
		return s.store.BeginSession(ctx, ev.SessionID, ev.Timestamp)
	case transcribe.EventUpdate:
		return s.store.AppendEntry(ctx, Entry{
			SessionID:  ev.SessionID,
			Text:       ev.Transcript,
			Confidence: ev.Confidence,
			Timestamp:  ev.Timestamp,
		})
	case transcribe.EventStopped:
		return s.store.EndSession(ctx, ev.SessionID, ev.Timestamp, OutcomeStopped, "")
	case transcribe.EventError:
		return s.store.EndSession(ctx, ev.SessionID, ev.Timestamp, OutcomeFailed, ev.Message)
	}
	return nil
}
