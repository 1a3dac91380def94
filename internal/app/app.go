// Package app wires the livescribe subsystems into a running application.
//
// New builds the journal, the event hub, the transcription controller and
// the HTTP server. Run serves HTTP until its context ends, and Shutdown
// stops the session and tears everything down in reverse order.
//
// Tests inject doubles through functional options (WithJournal, WithListener,
// etc.). When an option is not given, New builds the real implementation
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/journal"
	"github.com/MrWong99/livescribe/internal/journal/postgres"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/server"
	"github.com/MrWong99/livescribe/internal/transcribe"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// DefaultListenAddr is used when server.listen_addr is empty.
const DefaultListenAddr = ":8080"

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the engine and capture device built by main from the
// config registry. A nil Engine leaves transcription unavailable.
type Providers struct {
	Engine stt.Provider
	Device audio.CaptureDevice

	// Closers release provider resources (model files, audio contexts) on
	// Shutdown.
	Closers []io.Closer
}

// App owns the lifetimes of all subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	store          journal.Store
	sink           *journal.Sink
	hub            *server.Hub
	ctrl           *transcribe.Controller
	permission     transcribe.PermissionRequester
	emitters       []transcribe.Emitter
	metricsHandler http.Handler
	httpSrv        *http.Server
	listener       net.Listener

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithJournal injects a journal store instead of connecting to Postgres.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPermission overrides session.permission.
func WithPermission(p transcribe.PermissionRequester) Option {
	return func(a *App) { a.permission = p }
}

// WithEmitter adds an event sink next to the built-in ones.
func WithEmitter(e transcribe.Emitter) Option {
	return func(a *App) { a.emitters = append(a.emitters, e) }
}

// WithListener makes Run serve on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithMetricsHandler replaces the Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds an App. On error every resource created so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	for _, c := range providers.Closers {
		a.closers = append(a.closers, c.Close)
	}

	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		a.release()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Event hub ─────────────────────────────────────────────────────
	a.hub = server.NewHub(
		server.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		server.WithHubMetrics(a.metrics),
	)

	// ── 3. Transcription controller ──────────────────────────────────────
	a.initController()

	// ── 4. HTTP server ───────────────────────────────────────────────────
	a.initHTTP()

	slog.Info("app initialised",
		"engine", cfg.Engine.Name,
		"engine_available", providers.Engine != nil,
		"capture", cfg.Capture.Name,
		"journal", a.store != nil,
	)
	return a, nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.store == nil && a.cfg.Journal.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.Journal.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.store = store
	}
	if a.store == nil {
		slog.Info("journal disabled; transcripts are not persisted")
		return nil
	}
	opts := []journal.SinkOption{journal.WithMetrics(a.metrics)}
	if a.cfg.Journal.Buffer > 0 {
		opts = append(opts, journal.WithBuffer(a.cfg.Journal.Buffer))
	}
	a.sink = journal.NewSink(a.store, opts...)
	a.closers = append(a.closers, a.sink.Close)
	return nil
}

func (a *App) initController() {
	s := a.cfg.Session
	emitters := transcribe.MultiEmitter{transcribe.LogEmitter{Logger: slog.Default()}, a.hub}
	if a.sink != nil {
		emitters = append(emitters, a.sink)
	}
	emitters = append(emitters, a.emitters...)

	permission := a.permission
	if permission == nil && s.Permission == config.PermissionDeny {
		permission = transcribe.StaticPermission(false)
	}

	a.ctrl = transcribe.New(transcribe.Config{
		Engine:              a.providers.Engine,
		Device:              a.providers.Device,
		Permission:          permission,
		Emitter:             emitters,
		Metrics:             a.metrics,
		Language:            s.Language,
		Keywords:            Keywords(s.Keywords),
		Corrector:           Corrector(s.Vocabulary),
		ConversionWorkers:   s.ConversionWorkers,
		QueueSize:           s.QueueSize,
		StreamCapacity:      s.StreamCapacity,
		FinalizeTimeout:     s.FinalizeTimeout,
		AnnotationDelimiter: s.AnnotationDelimiter,
	})
}

func (a *App) initHTTP() {
	checkers := []health.Checker{health.Engine(a.ctrl.QueryAvailability)}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("journal", p))
	}

	metricsHandler := a.metricsHandler
	if metricsHandler == nil && a.cfg.Telemetry.PrometheusEnabled() {
		metricsHandler = promhttp.Handler()
	}

	srv := server.New(server.Config{
		Transcriber:    a.ctrl,
		Hub:            a.hub,
		Journal:        a.store,
		Health:         health.New(checkers...),
		MetricsHandler: metricsHandler,
		Metrics:        a.metrics,
	})
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Controller returns the transcription controller.
func (a *App) Controller() *transcribe.Controller { return a.ctrl }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// It returns nil after a cancellation; call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of diff. The vocabulary takes
// effect on the running session; keywords from the next session on.
func (a *App) ApplyConfig(cfg *config.Config, diff config.ConfigDiff) {
	if diff.VocabularyChanged {
		a.ctrl.SetCorrector(Corrector(cfg.Session.Vocabulary))
		slog.Info("vocabulary updated", "terms", len(cfg.Session.Vocabulary))
	}
	if diff.KeywordsChanged {
		a.ctrl.SetKeywords(Keywords(cfg.Session.Keywords))
		slog.Info("keywords updated", "keywords", len(cfg.Session.Keywords))
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the running session, drains HTTP connections and releases
// every subsystem in reverse-init order. If ctx expires first, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.ctrl.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		}
		// Subscribers hold hijacked connections that Shutdown does not wait
		// for, so the hub goes down with the server.
		a.hub.Close()
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// release runs the closers registered so far, for a failed New.
func (a *App) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Corrector returns a vocabulary corrector for terms, or nil when terms holds
// no usable entry.
func Corrector(terms []string) transcribe.TextCorrector {
	v := transcript.NewVocabulary(terms, nil)
	if v == nil {
		return nil
	}
	return v
}

// Keywords converts configured recognition hints.
func Keywords(kws []config.KeywordConfig) []stt.KeywordBoost {
	if len(kws) == 0 {
		return nil
	}
	out := make([]stt.KeywordBoost, 0, len(kws))
	for _, kw := range kws {
		out = append(out, stt.KeywordBoost{Keyword: strings.TrimSpace(kw.Keyword), Boost: kw.Boost})
	}
	return out
}
