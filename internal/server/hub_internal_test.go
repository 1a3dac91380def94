package server

import (
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcribe"
)

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	t.Parallel()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	h := NewHub(WithSubscriberBuffer(2), WithHubMetrics(m))

	closed := make(chan websocket.StatusCode, 1)
	slow := &subscriber{
		events: make(chan transcribe.Event, h.buffer),
		close:  func(code websocket.StatusCode, _ string) { closed <- code },
	}
	fast := &subscriber{
		events: make(chan transcribe.Event, 16),
		close:  func(websocket.StatusCode, string) { t.Error("fast subscriber closed") },
	}
	if !h.add(slow) || !h.add(fast) {
		t.Fatal("add rejected on an open hub")
	}

	for i := range 3 {
		h.Emit(transcribe.Event{Kind: transcribe.EventUpdate, Transcript: string(rune('a' + i))})
	}

	select {
	case code := <-closed:
		if code != websocket.StatusPolicyViolation {
			t.Errorf("close code = %v, want StatusPolicyViolation", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscriber was not closed")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
	if len(fast.events) != 3 {
		t.Errorf("fast subscriber got %d events, want 3", len(fast.events))
	}

	// Removing an already dropped subscriber is a no-op.
	h.remove(slow)
	if h.Len() != 1 {
		t.Errorf("Len() = %d after remove, want 1", h.Len())
	}
}

func TestHub_AddAfterClose(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.Close()
	if h.add(&subscriber{events: make(chan transcribe.Event, 1)}) {
		t.Error("add succeeded on a closed hub")
	}
}
