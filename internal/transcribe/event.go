package transcribe

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// EventKind identifies the type of an [Event].
type EventKind int

const (
	// EventStarted is emitted once per session after it reached Running.
	EventStarted EventKind = iota + 1

	// EventUpdate carries a volatile or final transcript.
	EventUpdate

	// EventStopped is emitted after a user-initiated stop completed.
	EventStopped

	// EventError is emitted when a running session fails. No Stopped event
	// follows it.
	EventError
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "transcriptionStarted"
	case EventUpdate:
		return "transcriptionUpdate"
	case EventStopped:
		return "transcriptionStopped"
	case EventError:
		return "transcriptionError"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

func parseEventKind(s string) (EventKind, error) {
	for k := EventStarted; k <= EventError; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("transcribe: unknown event %q", s)
}

// Terminal reports whether no further event follows k within a session.
func (k EventKind) Terminal() bool {
	return k == EventStopped || k == EventError
}

// Event is a lifecycle or transcript notification delivered to an [Emitter].
type Event struct {
	Kind      EventKind
	SessionID string

	// Update fields.
	Transcript string
	IsFinal    bool
	Confidence float64

	// Message describes the failure of an EventError.
	Message string

	// Timestamp is the engine's publish time for updates and the emit time
	// for every other kind.
	Timestamp time.Time
}

// wireEvent is the JSON shape of an Event.
type wireEvent struct {
	Event      string   `json:"event"`
	SessionID  string   `json:"session_id,omitempty"`
	Transcript *string  `json:"transcript,omitempty"`
	IsFinal    *bool    `json:"isFinal,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      *string  `json:"error,omitempty"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
}

// MarshalJSON encodes the event in its wire form. Every event carries its
// timestamp as fractional Unix seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	ts := unixSeconds(e.Timestamp)
	w := wireEvent{Event: e.Kind.String(), SessionID: e.SessionID, Timestamp: &ts}
	switch e.Kind {
	case EventUpdate:
		w.Transcript, w.IsFinal, w.Confidence = &e.Transcript, &e.IsFinal, &e.Confidence
	case EventError:
		w.Error = &e.Message
	case EventStarted, EventStopped:
	default:
		return nil, fmt.Errorf("transcribe: cannot encode %s", e.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := parseEventKind(w.Event)
	if err != nil {
		return err
	}
	*e = Event{Kind: kind, SessionID: w.SessionID}
	if w.Transcript != nil {
		e.Transcript = *w.Transcript
	}
	if w.IsFinal != nil {
		e.IsFinal = *w.IsFinal
	}
	if w.Confidence != nil {
		e.Confidence = *w.Confidence
	}
	if w.Error != nil {
		e.Message = *w.Error
	}
	if w.Timestamp != nil {
		sec, frac := math.Modf(*w.Timestamp)
		e.Timestamp = time.Unix(int64(sec), int64(math.Round(frac*1e9)))
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}
