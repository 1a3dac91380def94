package transcribe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcribe"
	sttmock "github.com/MrWong99/livescribe/pkg/provider/stt/mock"
)

// recordSpans installs an in-memory tracer provider for the test. Tests
// using it must not run in parallel.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// waitSpan polls until a span called name has ended and returns it.
func waitSpan(t *testing.T, exp *tracetest.InMemoryExporter, name string) tracetest.SpanStub {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range exp.GetSpans() {
			if s.Name == name {
				return s
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s span within deadline", name)
	return tracetest.SpanStub{}
}

func spanSessionID(s tracetest.SpanStub) string {
	for _, kv := range s.Attributes {
		if kv.Key == observe.SessionIDKey {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestController_SpansCarrySession(t *testing.T) {
	exp := recordSpans(t)
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	info, _ := h.ctrl.Session()
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for _, name := range []string{"transcribe.Start", "transcribe.Stop"} {
		s := waitSpan(t, exp, name)
		if got := spanSessionID(s); got != info.ID {
			t.Errorf("%s session_id = %q, want %q", name, got, info.ID)
		}
		if s.Status.Code == codes.Error {
			t.Errorf("%s status = error (%s), want ok", name, s.Status.Description)
		}
	}
}

func TestController_SpansRecordFailures(t *testing.T) {
	exp := recordSpans(t)

	t.Run("start denied", func(t *testing.T) {
		exp.Reset()
		h := newHarness(t, func(c *transcribe.Config) { c.Permission = transcribe.StaticPermission(false) })
		if err := h.ctrl.Start(context.Background()); !errors.Is(err, transcribe.ErrPermissionDenied) {
			t.Fatalf("Start = %v, want ErrPermissionDenied", err)
		}
		s := waitSpan(t, exp, "transcribe.Start")
		if s.Status.Code != codes.Error || s.Status.Description != transcribe.ErrPermissionDenied.Error() {
			t.Errorf("status = %v %q", s.Status.Code, s.Status.Description)
		}
	})

	t.Run("stop with finalize error", func(t *testing.T) {
		exp.Reset()
		h := newHarness(t, nil)
		h.engine.Session = &sttmock.Session{FinalizeErr: errors.New("flush failed")}
		if err := h.ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		info, _ := h.ctrl.Session()
		err := h.ctrl.Stop(context.Background())
		if !errors.Is(err, transcribe.ErrTeardown) {
			t.Fatalf("Stop = %v, want ErrTeardown", err)
		}
		s := waitSpan(t, exp, "transcribe.Stop")
		if spanSessionID(s) != info.ID || s.Status.Code != codes.Error || s.Status.Description != err.Error() {
			t.Errorf("stop span = session %q status %v %q", spanSessionID(s), s.Status.Code, s.Status.Description)
		}
		if len(s.Events) == 0 || s.Events[0].Name != "exception" {
			t.Errorf("stop span events = %v, want a recorded exception", s.Events)
		}
	})

	t.Run("stream failure", func(t *testing.T) {
		exp.Reset()
		h := newHarness(t, nil)
		if err := h.ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		info, _ := h.ctrl.Session()
		h.engine.LastSession().Fail(errors.New("socket reset"))

		s := waitSpan(t, exp, "transcribe.Abort")
		if got := spanSessionID(s); got != info.ID {
			t.Errorf("abort session_id = %q, want %q", got, info.ID)
		}
		if s.Status.Code != codes.Error || s.Status.Description != "socket reset" {
			t.Errorf("abort status = %v %q, want error \"socket reset\"", s.Status.Code, s.Status.Description)
		}
		start := waitSpan(t, exp, "transcribe.Start")
		if s.Parent.TraceID() != start.SpanContext.TraceID() {
			t.Error("abort span is not in the trace of the start that opened the session")
		}
	})
}
