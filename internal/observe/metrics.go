// Package observe provides application-wide observability primitives for
// livescribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Reasons passed to [Metrics.RecordChunkDropped].
const (
	DropOverflow   = "overflow"
	DropConversion = "conversion"
	DropStream     = "stream"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionStartDuration tracks how long Start takes from request to
	// Running.
	SessionStartDuration metric.Float64Histogram

	// SessionStopDuration tracks the full two-phase teardown.
	SessionStopDuration metric.Float64Histogram

	// FinalizeDuration tracks the engine's finalize-and-drain step alone.
	FinalizeDuration metric.Float64Histogram

	// ConversionDuration tracks per-chunk format conversion.
	ConversionDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksCaptured counts chunks delivered by the capture device.
	ChunksCaptured metric.Int64Counter

	// ChunksStreamed counts chunks pushed to the engine input stream.
	ChunksStreamed metric.Int64Counter

	// ChunksDropped counts chunks lost before reaching the engine. Use with
	// attribute:
	//   attribute.String("reason", DropOverflow|DropConversion|DropStream)
	ChunksDropped metric.Int64Counter

	// TranscriptUpdates counts emitted transcript updates. Use with attribute:
	//   attribute.Bool("final", ...)
	TranscriptUpdates metric.Int64Counter

	// EventsDropped counts events a sink could not deliver. Use with attribute:
	//   attribute.String("sink", ...)
	EventsDropped metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts failed starts, stream failures and teardown
	// errors. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// BreakerTransitions counts engine circuit breaker state changes. Use
	// with attributes:
	//   attribute.String("engine", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a session is Running or Stopping.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks connected WebSocket event subscribers.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for session
// lifecycle steps.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// conversionBuckets covers sub-millisecond to tens of milliseconds.
var conversionBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionStartDuration, err = m.Float64Histogram("livescribe.session.start.duration",
		metric.WithDescription("Latency of starting a transcription session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStopDuration, err = m.Float64Histogram("livescribe.session.stop.duration",
		metric.WithDescription("Latency of stopping a transcription session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("livescribe.engine.finalize.duration",
		metric.WithDescription("Latency of the engine finalize-and-drain step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConversionDuration, err = m.Float64Histogram("livescribe.audio.conversion.duration",
		metric.WithDescription("Latency of converting one captured chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(conversionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksCaptured, err = m.Int64Counter("livescribe.audio.chunks.captured",
		metric.WithDescription("Total chunks delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.ChunksStreamed, err = m.Int64Counter("livescribe.audio.chunks.streamed",
		metric.WithDescription("Total chunks pushed to the engine input stream."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("livescribe.audio.chunks.dropped",
		metric.WithDescription("Total chunks dropped before reaching the engine, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptUpdates, err = m.Int64Counter("livescribe.transcript.updates",
		metric.WithDescription("Total transcript updates emitted, by finality."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("livescribe.events.dropped",
		metric.WithDescription("Total events a sink failed to deliver, by sink."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("livescribe.session.errors",
		metric.WithDescription("Total session errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("livescribe.engine.breaker.transitions",
		metric.WithDescription("Total engine circuit breaker transitions by engine and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livescribe.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("livescribe.event_subscribers",
		metric.WithDescription("Number of connected event stream subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunkDropped increments the dropped-chunk counter for reason.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTranscriptUpdate increments the transcript update counter.
func (m *Metrics) RecordTranscriptUpdate(ctx context.Context, final bool) {
	m.TranscriptUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("final", final)),
	)
}

// RecordSessionError increments the session error counter for kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordEventDropped increments the dropped-event counter for sink.
func (m *Metrics) RecordEventDropped(ctx context.Context, sink string) {
	m.EventsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("sink", sink)),
	)
}

// RecordBreakerTransition counts an engine circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, engine, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("state", state),
		),
	)
}
