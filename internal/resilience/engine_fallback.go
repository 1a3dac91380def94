package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// EngineFallback implements [stt.Provider] with automatic failover across
// several transcription engines. Each engine has its own circuit breaker.
//
// Formats are negotiated per engine. A fallback engine is only started when
// the format it negotiated equals the one the caller settled on, because the
// caller has already built its conversion pipeline for that format.
type EngineFallback struct {
	group *FallbackGroup[stt.Provider]

	mu         sync.Mutex
	negotiated map[string]audio.Format
}

var (
	_ stt.Provider = (*EngineFallback)(nil)
	_ stt.Prober   = (*EngineFallback)(nil)
)

// NewEngineFallback creates an [EngineFallback] with primary as the preferred
// engine.
func NewEngineFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{
		group:      NewFallbackGroup(primary, primaryName, cfg),
		negotiated: make(map[string]audio.Format),
	}
}

// AddFallback registers an additional engine tried after all earlier ones.
func (f *EngineFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// NegotiateFormat asks every engine whose breaker is not open for its format
// and returns the first successful answer.
func (f *EngineFallback) NegotiateFormat(ctx context.Context, native audio.Format) (audio.Format, error) {
	var (
		chosen audio.Format
		found  bool
		errs   []error
	)
	f.group.Each(func(name string, p stt.Provider) bool {
		format, err := p.NegotiateFormat(ctx, native)
		f.mu.Lock()
		if err != nil {
			delete(f.negotiated, name)
		} else {
			f.negotiated[name] = format
		}
		f.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return true
		}
		if !found {
			chosen, found = format, true
		}
		return true
	})
	if !found {
		if len(errs) == 0 {
			return audio.Format{}, fmt.Errorf("%w: no healthy engine", ErrAllFailed)
		}
		return audio.Format{}, fmt.Errorf("%w: %w", ErrAllFailed, errs[0])
	}
	return chosen, nil
}

// StartStream opens a session on the first healthy engine whose negotiated
// format matches cfg.Format.
func (f *EngineFallback) StartStream(ctx context.Context, cfg stt.StreamConfig, input *audio.InputStream) (stt.SessionHandle, error) {
	h, name, err := ExecuteNamed(f.group, func(name string, p stt.Provider) (stt.SessionHandle, error) {
		if err := f.checkFormat(name, cfg.Format); err != nil {
			return nil, err
		}
		return p.StartStream(ctx, cfg, input)
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("engine session started", "engine", name, "format", cfg.Format.String())
	return h, nil
}

// checkFormat skips engines that negotiated a different format. Engines never
// asked are attempted.
func (f *EngineFallback) checkFormat(name string, want audio.Format) error {
	f.mu.Lock()
	got, ok := f.negotiated[name]
	f.mu.Unlock()
	if ok && got != want {
		return fmt.Errorf("%w: negotiated %s, session uses %s", ErrSkipped, got, want)
	}
	return nil
}

// Probe succeeds when at least one engine with a non-open breaker is
// available.
func (f *EngineFallback) Probe(ctx context.Context) error {
	available := false
	f.group.Each(func(_ string, p stt.Provider) bool {
		available = stt.Available(ctx, p)
		return !available
	})
	if !available {
		return stt.ErrUnavailable
	}
	return nil
}
