package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider that records spans in memory.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs redirects the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestTraceID(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	ctx, span := tp.Tracer("test").Start(context.Background(), "transcribe.Start")
	defer span.End()
	id := TraceID(ctx)
	if len(id) != 32 || !isHex(id) {
		t.Errorf("TraceID = %q, want 32 hex characters", id)
	}
	if got := span.SpanContext().TraceID().String(); got != id {
		t.Errorf("TraceID = %q, span trace ID = %q", id, got)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	_, span := StartSpan(context.Background(), "transcribe.Stop")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "transcribe.Stop" {
		t.Fatalf("spans = %v, want one transcribe.Stop", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestSetSessionAndFailSpan(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{"success", nil, codes.Unset, 0},
		{"stream failure", errors.New("socket reset"), codes.Error, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tp, exp := newTestTracerProvider(t)
			_, span := tp.Tracer("test").Start(context.Background(), "transcribe.Abort")
			SetSession(span, "sess-1")
			FailSpan(span, tc.err)
			span.End()

			s := exp.GetSpans()[0]
			var sessionID string
			for _, kv := range s.Attributes {
				if kv.Key == SessionIDKey {
					sessionID = kv.Value.AsString()
				}
			}
			if sessionID != "sess-1" {
				t.Errorf("session_id attribute = %q, want sess-1", sessionID)
			}
			if s.Status.Code != tc.wantStatus {
				t.Errorf("status = %v, want %v", s.Status.Code, tc.wantStatus)
			}
			if tc.err != nil && s.Status.Description != tc.err.Error() {
				t.Errorf("status description = %q, want %q", s.Status.Description, tc.err.Error())
			}
			if len(s.Events) != tc.wantEvents {
				t.Errorf("span events = %d, want %d", len(s.Events), tc.wantEvents)
			}
		})
	}
}

func TestSessionLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "transcribe.Start")
	defer span.End()
	SessionLogger(ctx, "sess-2").Info("transcription started")

	logged := buf.String()
	for _, want := range []string{"session_id=sess-2", "trace_id=" + TraceID(ctx), "span_id="} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %q, got: %s", want, logged)
		}
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("start request failed")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log output should not contain trace_id, got: %s", buf.String())
	}
}
