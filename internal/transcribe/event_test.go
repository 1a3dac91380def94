package transcribe_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/transcribe"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text, delim, want string
	}{
		{"hello world", "{", "hello world"},
		{"hello world {speaker: 1}", "{", "hello world"},
		{"  padded {x} trailing {y}", "{", "padded"},
		{"{only annotation}", "{", ""},
		{"  untouched  ", "{", "  untouched  "},
		{"a | b", "|", "a"},
		{"keep {braces}", "", "keep {braces}"},
	}
	for _, tc := range tests {
		if got := transcribe.NormalizeText(tc.text, tc.delim); got != tc.want {
			t.Errorf("NormalizeText(%q, %q) = %q, want %q", tc.text, tc.delim, got, tc.want)
		}
	}
}

func TestEvent_MarshalJSON(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1700000000, 250_000_000)
	tests := []struct {
		name string
		ev   transcribe.Event
		want string
	}{
		{
			name: "started",
			ev:   transcribe.Event{Kind: transcribe.EventStarted, SessionID: "s1", Timestamp: ts},
			want: `{"event":"transcriptionStarted","session_id":"s1","timestamp":1700000000.25}`,
		},
		{
			name: "update",
			ev: transcribe.Event{
				Kind: transcribe.EventUpdate, SessionID: "s1",
				Transcript: "hi", IsFinal: true, Confidence: 0.5, Timestamp: ts,
			},
			want: `{"event":"transcriptionUpdate","session_id":"s1","transcript":"hi","isFinal":true,"confidence":0.5,"timestamp":1700000000.25}`,
		},
		{
			name: "volatile update keeps zero fields",
			ev:   transcribe.Event{Kind: transcribe.EventUpdate, SessionID: "s1", Timestamp: ts},
			want: `{"event":"transcriptionUpdate","session_id":"s1","transcript":"","isFinal":false,"confidence":0,"timestamp":1700000000.25}`,
		},
		{
			name: "stopped",
			ev:   transcribe.Event{Kind: transcribe.EventStopped, SessionID: "s1", Timestamp: time.Unix(1700000001, 0)},
			want: `{"event":"transcriptionStopped","session_id":"s1","timestamp":1700000001}`,
		},
		{
			name: "error",
			ev:   transcribe.Event{Kind: transcribe.EventError, SessionID: "s1", Message: "boom", Timestamp: ts},
			want: `{"event":"transcriptionError","session_id":"s1","error":"boom","timestamp":1700000000.25}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("Marshal =\n  %s\nwant\n  %s", got, tc.want)
			}
		})
	}
}

func TestEvent_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var ev transcribe.Event
	raw := `{"event":"transcriptionUpdate","session_id":"s1","transcript":"hi","isFinal":true,"confidence":0.5,"timestamp":1700000000.25}`
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.Kind != transcribe.EventUpdate || ev.SessionID != "s1" || ev.Transcript != "hi" || !ev.IsFinal || ev.Confidence != 0.5 {
		t.Errorf("decoded %+v", ev)
	}
	if want := time.Unix(1700000000, 250_000_000); !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}

	if err := json.Unmarshal([]byte(`{"event":"transcriptionStarted","session_id":"s2","timestamp":1700000002.5}`), &ev); err != nil {
		t.Fatalf("Unmarshal started: %v", err)
	}
	if want := time.Unix(1700000002, 500_000_000); ev.Kind != transcribe.EventStarted || !ev.Timestamp.Equal(want) {
		t.Errorf("decoded started %+v, want timestamp %v", ev, want)
	}

	if err := json.Unmarshal([]byte(`{"event":"nope"}`), &ev); err == nil {
		t.Error("unknown event name accepted")
	}
}

func TestEventKind_Terminal(t *testing.T) {
	t.Parallel()

	for k, want := range map[transcribe.EventKind]bool{
		transcribe.EventStarted: false,
		transcribe.EventUpdate:  false,
		transcribe.EventStopped: true,
		transcribe.EventError:   true,
	} {
		if got := k.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", k, got, want)
		}
	}
}
