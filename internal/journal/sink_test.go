package journal_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/journal"
	"github.com/MrWong99/livescribe/internal/journal/mock"
	"github.com/MrWong99/livescribe/internal/transcribe"
)

func TestSink_WritesSessionLifecycle(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	sink := journal.NewSink(store)

	t0 := time.Unix(1700000000, 0)
	for _, ev := range []transcribe.Event{
		{Kind: transcribe.EventStarted, SessionID: "s1", Timestamp: t0},
		{Kind: transcribe.EventUpdate, SessionID: "s1", Transcript: "hel", Timestamp: t0.Add(time.Second)},
		{Kind: transcribe.EventUpdate, SessionID: "s1", Transcript: "hello", IsFinal: true, Confidence: 0.8, Timestamp: t0.Add(2 * time.Second)},
		{Kind: transcribe.EventUpdate, SessionID: "s1", Transcript: "world", IsFinal: true, Timestamp: t0.Add(3 * time.Second)},
		{Kind: transcribe.EventStopped, SessionID: "s1", Timestamp: t0.Add(4 * time.Second)},
	} {
		sink.Emit(ev)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := t.Context()
	entries, err := store.Entries(ctx, "s1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "hello" || entries[1].Text != "world" {
		t.Fatalf("entries = %+v, want the two final updates", entries)
	}
	if entries[0].Confidence != 0.8 || !entries[0].Timestamp.Equal(t0.Add(2*time.Second)) {
		t.Errorf("entry = %+v", entries[0])
	}

	sess, err := store.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Outcome != journal.OutcomeStopped || !sess.StartedAt.Equal(t0) || !sess.EndedAt.Equal(t0.Add(4*time.Second)) {
		t.Errorf("session = %+v", sess)
	}
}

func TestSink_RecordsFailure(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	sink := journal.NewSink(store)
	sink.Emit(transcribe.Event{Kind: transcribe.EventStarted, SessionID: "s2", Timestamp: time.Now()})
	sink.Emit(transcribe.Event{Kind: transcribe.EventError, SessionID: "s2", Message: "socket reset", Timestamp: time.Now()})
	_ = sink.Close()

	sess, err := store.Session(t.Context(), "s2")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Outcome != journal.OutcomeFailed || sess.Error != "socket reset" {
		t.Errorf("session = %+v, want failed with message", sess)
	}
}

func TestSink_StoreErrorsDoNotStopTheSink(t *testing.T) {
	t.Parallel()

	store := &mock.Store{BeginErr: errors.New("db down")}
	sink := journal.NewSink(store)
	sink.Emit(transcribe.Event{Kind: transcribe.EventStarted, SessionID: "s3"})
	sink.Emit(transcribe.Event{Kind: transcribe.EventUpdate, SessionID: "s3", Transcript: "x", IsFinal: true})
	_ = sink.Close()

	if got := store.CallCount("AppendEntry"); got != 1 {
		t.Errorf("AppendEntry calls = %d, want 1", got)
	}
}

func TestSink_EmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	sink := journal.NewSink(store, journal.WithBuffer(1))
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sink.Emit(transcribe.Event{Kind: transcribe.EventStarted, SessionID: "late"})
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := len(store.Calls()); got != 0 {
		t.Errorf("store saw %d calls, want 0", got)
	}
}
