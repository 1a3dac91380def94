// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps an incremental transcription engine (e.g., Deepgram,
// a local whisper.cpp server, or whisper.cpp linked in-process) and exposes a
// uniform streaming interface. A session is opened against an
// [audio.InputStream] that the caller fills with converted audio; the engine
// pulls chunks from it at its own pace and publishes [Result] values lazily on
// [SessionHandle.Results].
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ErrUnavailable is returned by [Prober.Probe] when the engine cannot serve
// sessions right now (model missing, server unreachable, etc.).
var ErrUnavailable = errors.New("stt: engine unavailable")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// Format is the audio format of every chunk on the input stream. It must be
	// the value returned by [Provider.NegotiateFormat].
	Format audio.Format

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words. Providers that do not support hints
	// ignore it.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// engine.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// Results returns the channel of incremental results. Both volatile
	// (IsFinal == false) and final results are delivered on it, in the order
	// the engine produced them. The channel is closed once the engine has
	// processed the end of the input stream, or when the session fails; in
	// the latter case [SessionHandle.Err] reports why.
	Results() <-chan Result

	// Err returns the terminal error of the session, or nil. It is only
	// meaningful after the Results channel has been closed.
	Err() error

	// Finalize asks the engine to finish processing all audio already pushed
	// to the input stream and waits until every resulting Result has been
	// published. The caller must have called [audio.InputStream.Finish]
	// before. Returns ctx.Err() if ctx expires first.
	Finalize(ctx context.Context) error

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Results channel is closed. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// NegotiateFormat returns the audio format the engine wants to receive,
	// given the capture device's native format. Most engines require a fixed
	// format (typically 16 kHz mono s16le) regardless of native.
	NegotiateFormat(ctx context.Context, native audio.Format) (audio.Format, error)

	// StartStream opens a new streaming transcription session reading audio
	// from input. The engine owns the consumer side of input from now on.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig, input *audio.InputStream) (SessionHandle, error)
}

// Prober is implemented by providers that can report availability without
// opening a session.
type Prober interface {
	Probe(ctx context.Context) error
}

// Available reports whether p can serve sessions. A nil provider is never
// available; a provider that does not implement [Prober] is assumed
// available.
func Available(ctx context.Context, p Provider) bool {
	if p == nil {
		return false
	}
	if pr, ok := p.(Prober); ok {
		return pr.Probe(ctx) == nil
	}
	return true
}
