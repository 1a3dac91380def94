// Command livescribe is the live transcription server: it captures audio
// from a local device, streams it to a speech engine and publishes
// transcript events over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/malgo"
	"github.com/MrWong99/livescribe/pkg/audio/wavfile"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/livescribe/pkg/provider/stt/whisper"
)

// shutdownTimeout bounds the graceful shutdown, including the finalize step
// of a running session.
const shutdownTimeout = 15 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "start a transcription session immediately")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livescribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("livescribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Prometheus:     cfg.Telemetry.PrometheusEnabled(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		application.ApplyConfig(next, diff)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Reload()
				}
			}
		}()
	}

	if *autostart {
		go func() {
			if err := application.Controller().Start(ctx); err != nil {
				slog.Error("autostart failed", "err", err)
			}
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	return 0
}

// ── Providers ─────────────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in engine and capture factories
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Engines ───────────────────────────────────────────────────────────────

	reg.RegisterEngine("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterEngine("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if ms, ok := entry.IntOption("silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms, ok := entry.IntOption("max_buffer_duration_ms"); ok {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterEngine("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath, _ = entry.StringOption("model_path")
		}
		var opts []whisper.NativeOption
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if ms, ok := entry.IntOption("silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		if ms, ok := entry.IntOption("max_buffer_duration_ms"); ok {
			opts = append(opts, whisper.WithNativeMaxBufferDurationMs(ms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("malgo", func(entry config.ProviderEntry) (audio.CaptureDevice, error) {
		var opts []malgo.Option
		if n, ok := entry.IntOption("period_frames"); ok && n > 0 {
			opts = append(opts, malgo.WithPeriodFrames(uint32(n)))
		}
		return malgo.New(opts...)
	})

	reg.RegisterCapture("wav", func(entry config.ProviderEntry) (audio.CaptureDevice, error) {
		path, _ := entry.StringOption("path")
		if path == "" {
			return nil, errors.New("wav: options.path is required")
		}
		var opts []wavfile.Option
		if loop, ok := entry.BoolOption("loop"); ok {
			opts = append(opts, wavfile.WithLoop(loop))
		}
		if speed, ok := entry.FloatOption("speed"); ok {
			opts = append(opts, wavfile.WithSpeed(speed))
		}
		return wavfile.New(path, opts...), nil
	})
}

// buildProviders creates the capture device and the engine chain. A capture
// failure is fatal. Engines that fail to build are skipped; with none left
// the server still runs and every start reports the engine as unavailable.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	device, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("create capture device %q: %w", cfg.Capture.Name, err)
	}
	ps.Device = device
	if c, ok := device.(io.Closer); ok {
		ps.Closers = append(ps.Closers, c)
	}
	slog.Info("provider created", "kind", "capture", "name", cfg.Capture.Name)

	type named struct {
		name string
		p    stt.Provider
	}
	var engines []named
	for _, entry := range append([]config.ProviderEntry{cfg.Engine.ProviderEntry}, cfg.Engine.Fallbacks...) {
		if entry.Name == "" {
			continue
		}
		p, err := reg.CreateEngine(entry)
		if err != nil {
			slog.Error("engine unavailable", "name", entry.Name, "err", err)
			continue
		}
		if c, ok := p.(io.Closer); ok {
			ps.Closers = append(ps.Closers, c)
		}
		engines = append(engines, named{entry.Name, p})
		slog.Info("provider created", "kind", "engine", "name", entry.Name)
	}

	switch {
	case len(engines) == 0:
		slog.Warn("no speech engine available; start requests will fail")
	case len(engines) == 1 && len(cfg.Engine.Fallbacks) == 0:
		ps.Engine = engines[0].p
	default:
		b := cfg.Engine.Breaker
		fb := resilience.NewEngineFallback(engines[0].p, engines[0].name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  b.MaxFailures,
				ResetTimeout: b.ResetTimeout,
				HalfOpenMax:  b.HalfOpenMax,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("engine circuit breaker changed state", "engine", name, "from", from, "to", to)
					metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		for _, e := range engines[1:] {
			fb.AddFallback(e.name, e.p)
		}
		ps.Engine = fb
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       livescribe, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Engine", providerLabel(cfg.Engine.Name, cfg.Engine.Model))
	for _, fb := range cfg.Engine.Fallbacks {
		printRow("  fallback", providerLabel(fb.Name, fb.Model))
	}
	printRow("Capture", providerLabel(cfg.Capture.Name, ""))
	lang := cfg.Session.Language
	if lang == "" {
		lang = "en-US"
	}
	printRow("Language", lang)
	printRow("Vocabulary", fmt.Sprintf("%d terms", len(cfg.Session.Vocabulary)))
	if cfg.Journal.PostgresDSN != "" {
		printRow("Journal", "postgres")
	} else {
		printRow("Journal", "(disabled)")
	}
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = app.DefaultListenAddr
	}
	printRow("Listen addr", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	default:
		return name
	}
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
