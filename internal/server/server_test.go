package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/journal"
	"github.com/MrWong99/livescribe/internal/journal/mock"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/server"
	"github.com/MrWong99/livescribe/internal/transcribe"
	"github.com/MrWong99/livescribe/pkg/audio"
)

// fakeTranscriber returns configured errors and records calls.
type fakeTranscriber struct {
	mu        sync.Mutex
	startErr  error
	stopErr   error
	available bool
	state     transcribe.State
	info      *transcribe.SessionInfo
	starts    int
	stops     int
	stopCtx   context.Context
}

func (f *fakeTranscriber) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeTranscriber) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.stopCtx = ctx
	return f.stopErr
}

func (f *fakeTranscriber) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeTranscriber) QueryAvailability(context.Context) bool { return f.available }

func (f *fakeTranscriber) State() transcribe.State { return f.state }

func (f *fakeTranscriber) Session() (transcribe.SessionInfo, bool) {
	if f.info == nil {
		return transcribe.SessionInfo{}, false
	}
	return *f.info, true
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, tr server.Transcriber, store journal.Store) (*httptest.Server, *server.Hub) {
	t.Helper()
	m := testMetrics(t)
	hub := server.NewHub(server.WithHubMetrics(m))
	srv := server.New(server.Config{
		Transcriber: tr,
		Hub:         hub,
		Journal:     store,
		Health:      health.New(),
		Metrics:     m,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, hub
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func post(t *testing.T, url string) (*http.Response, errorResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body errorResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
	}
	return resp, body
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestServer_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusNoContent, ""},
		{"already running", transcribe.ErrAlreadyRunning, http.StatusConflict, server.CodeAlreadyRunning},
		{"permission denied", fmt.Errorf("%w: user said no", transcribe.ErrPermissionDenied), http.StatusForbidden, server.CodePermissionDenied},
		{"no engine", transcribe.ErrEngineUnavailable, http.StatusServiceUnavailable, server.CodeUnavailable},
		{"format", fmt.Errorf("%w: 7 channels", transcribe.ErrFormatNegotiation), http.StatusInternalServerError, server.CodeSetupError},
		{"capture", transcribe.ErrCaptureSetup, http.StatusInternalServerError, server.CodeSetupError},
		{"engine stream", errors.New("transcribe: start engine stream: dial failed"), http.StatusInternalServerError, server.CodeSetupError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := &fakeTranscriber{startErr: tc.err}
			ts, _ := newTestServer(t, tr, nil)

			resp, body := post(t, ts.URL+"/v1/transcription/start")
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if body.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tc.wantCode)
			}
			if tc.err != nil && body.Message != tc.err.Error() {
				t.Errorf("message = %q, want %q", body.Message, tc.err.Error())
			}
			if n := tr.startCount(); n != 1 {
				t.Errorf("Start called %d times, want 1", n)
			}
		})
	}
}

func TestServer_Stop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusNoContent, ""},
		{"busy", transcribe.ErrBusy, http.StatusConflict, server.CodeBusy},
		{"teardown", fmt.Errorf("%w: finalize: timeout", transcribe.ErrTeardown), http.StatusInternalServerError, server.CodeStopError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts, _ := newTestServer(t, &fakeTranscriber{stopErr: tc.err}, nil)
			resp, body := post(t, ts.URL+"/v1/transcription/stop")
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if body.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tc.wantCode)
			}
		})
	}
}

func TestServer_StopOutlivesClient(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{}
	srv := server.New(server.Config{Transcriber: tr, Hub: server.NewHub(), Health: health.New(), Metrics: testMetrics(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/transcription/stop", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.stopCtx == nil {
		t.Fatal("Stop not called")
	}
	if err := tr.stopCtx.Err(); err != nil {
		t.Errorf("Stop context err = %v, want nil after the client went away", err)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeTranscriber{}, nil)
	resp, err := http.Get(ts.URL + "/v1/transcription/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET start: status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_Availability(t *testing.T) {
	t.Parallel()

	for _, available := range []bool{true, false} {
		ts, _ := newTestServer(t, &fakeTranscriber{available: available}, nil)
		var body struct {
			Available bool `json:"available"`
		}
		if status := getJSON(t, ts.URL+"/v1/transcription/availability", &body); status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if body.Available != available {
			t.Errorf("available = %v, want %v", body.Available, available)
		}
	}
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	idle, _ := newTestServer(t, &fakeTranscriber{state: transcribe.StateIdle}, nil)
	var body struct {
		State   string         `json:"state"`
		Session map[string]any `json:"session"`
	}
	getJSON(t, idle.URL+"/v1/transcription/status", &body)
	if body.State != "idle" || body.Session != nil {
		t.Errorf("idle status = %+v", body)
	}

	running, _ := newTestServer(t, &fakeTranscriber{
		state: transcribe.StateRunning,
		info: &transcribe.SessionInfo{
			ID:            "abc",
			State:         transcribe.StateRunning,
			StartedAt:     time.Now(),
			CaptureFormat: audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingF32LE},
			EngineFormat:  audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingS16LE},
			Language:      "de-DE",
		},
	}, nil)
	body.Session = nil
	getJSON(t, running.URL+"/v1/transcription/status", &body)
	if body.State != "running" {
		t.Errorf("state = %q, want running", body.State)
	}
	if body.Session["id"] != "abc" || body.Session["language"] != "de-DE" {
		t.Errorf("session = %v", body.Session)
	}
}

func TestServer_Sessions(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	ctx := t.Context()
	t0 := time.Unix(1700000000, 0).UTC()
	if err := store.BeginSession(ctx, "s1", t0); err != nil {
		t.Fatal(err)
	}
	for i, text := range []string{"deploy the cluster", "check grafana"} {
		if err := store.AppendEntry(ctx, journal.Entry{SessionID: "s1", Text: text, Timestamp: t0.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	ts, _ := newTestServer(t, &fakeTranscriber{}, store)

	var sess struct {
		ID      string          `json:"id"`
		Outcome string          `json:"outcome"`
		Entries []journal.Entry `json:"entries"`
	}
	if status := getJSON(t, ts.URL+"/v1/sessions/s1", &sess); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if sess.ID != "s1" || sess.Outcome != string(journal.OutcomeRunning) || len(sess.Entries) != 2 {
		t.Errorf("session = %+v", sess)
	}

	var missing errorResponse
	if status := getJSON(t, ts.URL+"/v1/sessions/nope", &missing); status != http.StatusNotFound || missing.Code != server.CodeNotFound {
		t.Errorf("missing session: status %d, code %q", status, missing.Code)
	}

	var found struct {
		Entries []journal.Entry `json:"entries"`
	}
	if status := getJSON(t, ts.URL+"/v1/sessions/search?q=grafana", &found); status != http.StatusOK {
		t.Fatalf("search status = %d", status)
	}
	if len(found.Entries) != 1 || found.Entries[0].Text != "check grafana" {
		t.Errorf("search = %+v", found.Entries)
	}
}

func TestServer_SearchValidation(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeTranscriber{}, &mock.Store{})
	for _, query := range []string{
		"",
		"?q=x&limit=-1",
		"?q=x&limit=ten",
		"?q=x&after=yesterday",
		"?q=x&before=2024-13-01",
	} {
		var body errorResponse
		if status := getJSON(t, ts.URL+"/v1/sessions/search"+query, &body); status != http.StatusBadRequest {
			t.Errorf("search%s: status = %d, want 400", query, status)
		}
		if body.Code != server.CodeBadRequest {
			t.Errorf("search%s: code = %q", query, body.Code)
		}
	}
}

func TestServer_NoJournalRoutesWithoutStore(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeTranscriber{}, nil)
	resp, err := http.Get(ts.URL + "/v1/sessions/s1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeTranscriber{}, nil)
	var body struct {
		Status string `json:"status"`
	}
	if status := getJSON(t, ts.URL+"/healthz", &body); status != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q", status, body.Status)
	}
}

func dialEvents(t *testing.T, ts *httptest.Server, hub *server.Hub) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/transcription/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	deadline := time.Now().Add(5 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_StreamsEvents(t *testing.T) {
	t.Parallel()

	ts, hub := newTestServer(t, &fakeTranscriber{}, nil)
	a := dialEvents(t, ts, hub)
	b := dialEvents(t, ts, hub)
	for hub.Len() < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	now := time.Now()
	sent := []transcribe.Event{
		{Kind: transcribe.EventStarted, SessionID: "s1", Timestamp: now},
		{Kind: transcribe.EventUpdate, SessionID: "s1", Transcript: "hello world", IsFinal: true, Confidence: 0.9, Timestamp: now},
		{Kind: transcribe.EventStopped, SessionID: "s1", Timestamp: now},
	}
	for _, ev := range sent {
		hub.Emit(ev)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	for _, conn := range []*websocket.Conn{a, b} {
		for i, want := range sent {
			var got transcribe.Event
			if err := wsjson.Read(ctx, conn, &got); err != nil {
				t.Fatalf("read event %d: %v", i, err)
			}
			if got.Kind != want.Kind || got.SessionID != want.SessionID || got.Transcript != want.Transcript || got.IsFinal != want.IsFinal {
				t.Errorf("event %d = %+v, want %+v", i, got, want)
			}
			if d := got.Timestamp.Sub(want.Timestamp); d < -time.Millisecond || d > time.Millisecond {
				t.Errorf("event %d (%s) timestamp = %v, want %v", i, got.Kind, got.Timestamp, want.Timestamp)
			}
		}
	}
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	t.Parallel()

	ts, hub := newTestServer(t, &fakeTranscriber{}, nil)
	conn := dialEvents(t, ts, hub)

	hub.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Fatalf("close status = %v (err %v), want StatusGoingAway", got, err)
	}
	if hub.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", hub.Len())
	}

	// New subscribers are turned away.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/transcription/events"
	late, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer late.CloseNow()
	if _, _, err := late.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("late subscriber: err = %v, want StatusGoingAway", err)
	}
}
