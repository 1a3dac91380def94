// Package transcribe runs live transcription sessions: it captures audio
// from a device, converts it to the format an engine negotiated, streams it
// to the engine and emits transcript events.
//
// A [Controller] runs at most one session at a time. Start and Stop are safe
// to call concurrently from any goroutine; concurrent calls are resolved by
// compare-and-swap on the lifecycle [State] rather than by queueing:
//
//   - Start while not idle fails with [ErrAlreadyRunning].
//   - Stop while idle is a no-op; Stop while starting or stopping fails with
//     [ErrBusy].
//
// Events of one session are delivered in order: Started, any number of
// updates, then exactly one of Stopped (after Stop) or Error (when the
// engine stream failed, followed by automatic teardown).
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// Defaults applied by [New] to zero [Config] fields.
const (
	DefaultLanguage          = "en-US"
	DefaultConversionWorkers = 2
	DefaultQueueSize         = 32
	DefaultFinalizeTimeout   = 10 * time.Second
)

// Config holds the dependencies and tuning of a [Controller].
type Config struct {
	// Engine transcribes audio. A nil engine makes every Start fail with
	// ErrEngineUnavailable.
	Engine stt.Provider

	// Device captures audio.
	Device audio.CaptureDevice

	// Permission is asked before every session. Nil means granted.
	Permission PermissionRequester

	// Emitter receives session events.
	Emitter Emitter

	// Metrics records session metrics. Nil selects observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Language is the BCP-47 recognition language.
	Language string

	// Keywords are recognition hints passed to the engine.
	Keywords []stt.KeywordBoost

	// Corrector post-processes transcript text. Optional.
	Corrector TextCorrector

	// ConversionWorkers is the number of concurrent converters.
	ConversionWorkers int

	// QueueSize bounds captured chunks waiting for conversion. Chunks
	// arriving while it is full are dropped.
	QueueSize int

	// StreamCapacity bounds converted chunks waiting for the engine.
	StreamCapacity int

	// FinalizeTimeout bounds the graceful part of Stop.
	FinalizeTimeout time.Duration

	// AnnotationDelimiter is passed to [NormalizeText]. Empty selects
	// DefaultAnnotationDelimiter.
	AnnotationDelimiter string
}

type correctorBox struct{ TextCorrector }

// Controller owns the transcription lifecycle. Create it with [New].
type Controller struct {
	engine     stt.Provider
	device     audio.CaptureDevice
	permission PermissionRequester
	metrics    *observe.Metrics
	cfg        Config

	state atomic.Int32
	gen   atomic.Uint64
	rec   atomic.Pointer[session]

	// mu serialises building and tearing down sessions. The fast paths of
	// Start and Stop never wait for it: they are decided by the state CAS.
	mu   sync.Mutex
	gate gate

	corrector atomic.Pointer[correctorBox]
	keywords  atomic.Pointer[[]stt.KeywordBoost]
}

// New returns an idle Controller.
func New(cfg Config) *Controller {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.ConversionWorkers <= 0 {
		cfg.ConversionWorkers = DefaultConversionWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.StreamCapacity <= 0 {
		cfg.StreamCapacity = audio.DefaultStreamCapacity
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if cfg.AnnotationDelimiter == "" {
		cfg.AnnotationDelimiter = DefaultAnnotationDelimiter
	}
	c := &Controller{
		engine:     cfg.Engine,
		device:     cfg.Device,
		permission: cfg.Permission,
		metrics:    cfg.Metrics,
		cfg:        cfg,
	}
	c.gate.out = cfg.Emitter
	c.SetCorrector(cfg.Corrector)
	c.SetKeywords(cfg.Keywords)
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Session returns the current session, if any.
func (c *Controller) Session() (SessionInfo, bool) {
	s := c.rec.Load()
	if s == nil {
		return SessionInfo{}, false
	}
	return s.info(c.State()), true
}

// SetCorrector replaces the text corrector. It takes effect for the next
// result, including in a running session. Nil disables correction.
func (c *Controller) SetCorrector(tc TextCorrector) {
	if tc == nil {
		c.corrector.Store(nil)
		return
	}
	c.corrector.Store(&correctorBox{tc})
}

func (c *Controller) loadCorrector() TextCorrector {
	if b := c.corrector.Load(); b != nil {
		return b.TextCorrector
	}
	return nil
}

// SetKeywords replaces the recognition hints used by the next session.
func (c *Controller) SetKeywords(kw []stt.KeywordBoost) {
	kw = append([]stt.KeywordBoost(nil), kw...)
	c.keywords.Store(&kw)
}

// QueryAvailability reports whether the engine can serve a session now.
func (c *Controller) QueryAvailability(ctx context.Context) bool {
	return stt.Available(ctx, c.engine)
}

// Start opens a session: it requests permission, negotiates the engine
// format, opens the engine stream, starts converting and capturing, and
// emits Started once the session is Running.
//
// On failure everything acquired so far is released, the controller returns
// to Idle and no event is emitted.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return ErrAlreadyRunning
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	began := time.Now()
	ctx, span := observe.StartSpan(ctx, "transcribe.Start")
	defer span.End()

	s, err := c.open(ctx)
	if err != nil {
		c.state.Store(int32(StateIdle))
		observe.FailSpan(span, err)
		c.metrics.RecordSessionError(ctx, errorKind(err))
		observe.Logger(ctx).Warn("transcription start failed", "err", err)
		return err
	}

	c.state.Store(int32(StateRunning))
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.emit(s, Event{Kind: EventStarted})
	close(s.consumer.started)

	c.metrics.SessionStartDuration.Record(ctx, time.Since(began).Seconds())
	observe.SetSession(span, s.id)
	s.log.Info("transcription started",
		"capture_format", s.native.String(),
		"engine_format", s.format.String(),
		"language", s.language,
	)
	return nil
}

// open acquires the resources of a new session in order. On error every
// resource acquired so far has been released.
func (c *Controller) open(ctx context.Context) (*session, error) {
	if err := c.requestPermission(ctx); err != nil {
		return nil, err
	}
	if !stt.Available(ctx, c.engine) {
		return nil, ErrEngineUnavailable
	}
	if c.device == nil {
		return nil, fmt.Errorf("%w: no capture device configured", ErrCaptureSetup)
	}
	native, err := c.device.NativeFormat()
	if err != nil {
		return nil, fmt.Errorf("%w: query native format: %w", ErrCaptureSetup, err)
	}
	if err := native.Validate(); err != nil {
		return nil, fmt.Errorf("%w: native format: %w", ErrCaptureSetup, err)
	}
	target, err := c.engine.NegotiateFormat(ctx, native)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatNegotiation, err)
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: engine format: %w", ErrFormatNegotiation, err)
	}

	id := uuid.NewString()
	s := &session{
		id:        id,
		gen:       c.gen.Add(1),
		startedAt: time.Now(),
		native:    native,
		format:    target,
		language:  c.cfg.Language,
		log:       observe.SessionLogger(ctx, id),
	}
	// The session outlives the request that started it but keeps its trace.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	observe.SetSession(trace.SpanFromContext(ctx), id)
	c.gate.open(s.gen)

	s.input = audio.NewInputStream(c.cfg.StreamCapacity)
	handle, err := c.engine.StartStream(s.ctx, stt.StreamConfig{
		Format:   target,
		Language: c.cfg.Language,
		Keywords: *c.keywords.Load(),
	}, s.input)
	if err != nil {
		_ = s.release()
		return nil, fmt.Errorf("transcribe: start engine stream: %w", err)
	}
	s.handle = handle
	s.closers = append(s.closers, func() error {
		if err := handle.Close(); err != nil {
			return fmt.Errorf("close engine session: %w", err)
		}
		return nil
	})

	s.consumer = c.newConsumer(s)
	go s.consumer.run(s.ctx)
	s.closers = append(s.closers, func() error {
		s.cancel()
		<-s.consumer.done
		return nil
	})

	s.pipeline = newPipeline(native, target, s.input, c.cfg.ConversionWorkers, c.cfg.QueueSize, c.metrics, s.log)
	s.pipeline.start(s.ctx)
	s.closers = append(s.closers, func() error {
		s.pipeline.drain()
		s.input.Finish()
		return nil
	})

	s.capture = newCaptureSource(c.device, native, s.gen, s.pipeline, c.accepting, c.metrics)
	c.rec.Store(s)
	if err := s.capture.start(); err != nil {
		s.cancel()
		_ = s.release()
		c.rec.Store(nil)
		return nil, fmt.Errorf("%w: %w", ErrCaptureSetup, err)
	}
	s.closers = append(s.closers, func() error {
		if err := s.capture.stop(); err != nil {
			return fmt.Errorf("stop capture: %w", err)
		}
		return nil
	})
	return s, nil
}

func (c *Controller) requestPermission(ctx context.Context) error {
	if c.permission == nil {
		return nil
	}
	granted, err := c.permission.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if !granted {
		return ErrPermissionDenied
	}
	return nil
}

func (c *Controller) newConsumer(s *session) *consumer {
	cons := newConsumer(s.handle, c.cfg.AnnotationDelimiter)
	cons.corrector = c.loadCorrector
	cons.emit = func(ev Event) bool { return c.emit(s, ev) }
	cons.running = func() bool { return c.accepting(s.gen) }
	cons.onFailure = func(err error) bool { return c.fail(s, err) }
	cons.metrics = c.metrics
	cons.log = s.log
	return cons
}

// accepting reports whether session gen is current and running.
func (c *Controller) accepting(gen uint64) bool {
	s := c.rec.Load()
	return s != nil && s.gen == gen && c.State() == StateRunning
}

// Stop ends the running session gracefully: capture stops, queued audio is
// converted and handed to the engine, the engine finalizes within
// Config.FinalizeTimeout, remaining results are emitted, resources are
// released and Stopped is emitted.
//
// A failing teardown step does not interrupt the others; the controller is
// Idle afterwards, Stopped is still emitted and the error wraps ErrTeardown.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		if c.State() == StateIdle {
			return nil
		}
		return ErrBusy
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	began := time.Now()
	ctx, span := observe.StartSpan(ctx, "transcribe.Stop")
	defer span.End()

	s := c.rec.Load()
	observe.SetSession(span, s.id)
	err := c.teardown(ctx, s)

	c.rec.Store(nil)
	c.state.Store(int32(StateIdle))
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.emit(s, Event{Kind: EventStopped})
	c.metrics.SessionStopDuration.Record(ctx, time.Since(began).Seconds())

	st := s.pipeline.stats()
	if err != nil {
		observe.FailSpan(span, err)
		c.metrics.RecordSessionError(ctx, errorKind(err))
		s.log.Warn("transcription stopped with errors", "err", err)
	}
	s.log.Info("transcription stopped",
		"duration", time.Since(s.startedAt),
		"chunks_streamed", st.Streamed,
		"dropped_overflow", st.Overflow,
		"dropped_conversion", st.Conversion,
		"dropped_stream", st.Rejected,
	)
	return err
}

func (c *Controller) teardown(ctx context.Context, s *session) error {
	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.FinalizeTimeout)
	defer cancel()
	// Past the deadline, abandon queued audio instead of waiting for a
	// stalled engine.
	abandon := context.AfterFunc(stopCtx, s.cancel)
	defer abandon()

	var errs []error

	// Capture errors are reported by release.
	_ = s.capture.stop()
	s.pipeline.drain()
	s.input.Finish()

	finalizeStart := time.Now()
	if err := s.handle.Finalize(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("finalize: %w", err))
	}
	c.metrics.FinalizeDuration.Record(ctx, time.Since(finalizeStart).Seconds())

	s.consumer.drainAndWait()
	if err := s.consumer.streamErr(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrStreamFailure, err))
	}
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.pipeline.runErr(); err != nil {
		s.log.Warn("conversion pipeline ended with error", "err", err)
	}

	if err := joinErrs(errs); err != nil {
		return fmt.Errorf("%w: %w", ErrTeardown, err)
	}
	return nil
}

// fail starts the automatic teardown of s after its engine stream failed.
// It reports false when s is no longer running; the failure then belongs to
// the Stop in progress.
func (c *Controller) fail(s *session, cause error) bool {
	if !c.accepting(s.gen) || !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return false
	}
	go c.abort(s, cause)
	return true
}

func (c *Controller) abort(s *session, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := observe.StartSpan(s.ctx, "transcribe.Abort")
	defer span.End()
	observe.SetSession(span, s.id)
	observe.FailSpan(span, cause)

	s.log.Error("transcription stream failed", "err", cause)
	c.metrics.RecordSessionError(ctx, errorKind(ErrStreamFailure))

	s.cancel()
	if err := s.release(); err != nil {
		s.log.Warn("release after stream failure", "err", err)
	}
	c.rec.Store(nil)
	c.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	// Idle before Error, so a Stop issued on seeing Error is a no-op. A Start
	// racing in here waits on c.mu and opens its gate only after Error.
	c.state.Store(int32(StateIdle))
	c.emit(s, Event{Kind: EventError, Message: ErrorMessagePrefix + cause.Error()})
}

// Shutdown stops any session, waiting out a Start or Stop in progress.
func (c *Controller) Shutdown(ctx context.Context) error {
	for {
		err := c.Stop(ctx)
		if !errors.Is(err, ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// emit stamps ev with the session ID and delivers it through the gate.
func (c *Controller) emit(s *session, ev Event) bool {
	ev.SessionID = s.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return c.gate.emit(s.gen, ev)
}

// errorKind classifies err for the session error metric.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.Is(err, ErrFormatNegotiation):
		return "format_negotiation"
	case errors.Is(err, ErrCaptureSetup):
		return "capture_setup"
	case errors.Is(err, ErrTeardown):
		return "teardown"
	case errors.Is(err, ErrStreamFailure):
		return "stream_failure"
	default:
		return "setup"
	}
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
