package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcribe"
)

const (
	defaultSubscriberBuffer = 64
	defaultWriteTimeout     = 5 * time.Second
)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithSubscriberBuffer sets how many events may queue per subscriber before
// it is disconnected as too slow. Default: 64.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.originPatterns = patterns }
}

// WithHubMetrics records subscriber counts and dropped events.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// Hub fans transcription events out to WebSocket subscribers. It implements
// [transcribe.Emitter]: Emit never blocks, and a subscriber whose queue is
// full is disconnected rather than slowing everyone else down.
type Hub struct {
	buffer         int
	writeTimeout   time.Duration
	originPatterns []string
	metrics        *observe.Metrics

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	events chan transcribe.Event
	close  func(code websocket.StatusCode, reason string)
}

var _ transcribe.Emitter = (*Hub)(nil)

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer:       defaultSubscriberBuffer,
		writeTimeout: defaultWriteTimeout,
		metrics:      observe.DefaultMetrics(),
		subs:         make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Emit implements [transcribe.Emitter].
func (h *Hub) Emit(ev transcribe.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			delete(h.subs, sub)
			h.metrics.EventSubscribers.Add(context.Background(), -1)
			h.metrics.RecordEventDropped(context.Background(), "websocket")
			go sub.close(websocket.StatusPolicyViolation, "subscriber too slow")
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it
// until the client disconnects. Messages from the client are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{
		events: make(chan transcribe.Event, h.buffer),
		close: func(code websocket.StatusCode, reason string) {
			_ = conn.Close(code, reason)
		},
	}
	if !h.add(sub) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(sub)

	ctx := conn.CloseRead(context.WithoutCancel(r.Context()))
	for {
		select {
		case ev := <-sub.events:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		h.metrics.EventSubscribers.Add(context.Background(), -1)
		go sub.close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	h.metrics.EventSubscribers.Add(context.Background(), 1)
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		h.metrics.EventSubscribers.Add(context.Background(), -1)
	}
}
