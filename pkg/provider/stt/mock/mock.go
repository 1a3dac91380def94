// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller negotiates a format and starts
// sessions with the expected StreamConfig. Use Session to observe which
// chunks the engine consumed from the input stream and to feed controlled
// Result values back to the caller.
//
// Example:
//
//	sess := &mock.Session{}
//	p := &mock.Provider{
//	    NegotiateFormatResult: audio.Format{SampleRate: 16000, Channels: 1},
//	    Session:               sess,
//	}
//	handle, _ := p.StartStream(ctx, cfg, input)
//	sess.Publish(stt.Result{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider and stt.Prober.
type Provider struct {
	mu sync.Mutex

	// NegotiateFormatResult is returned by NegotiateFormat. If zero, the
	// native format is returned unchanged.
	NegotiateFormatResult audio.Format

	// NegotiateFormatErr, if non-nil, is returned by NegotiateFormat.
	NegotiateFormatErr error

	// Session is the handle returned by StartStream. If nil, StartStream
	// returns a fresh default Session for every call. A Session must not be
	// started twice.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// ProbeErr is returned by Probe.
	ProbeErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records every session handed out by StartStream.
	Sessions []*Session

	// NegotiateCallCount is the number of NegotiateFormat calls.
	NegotiateCallCount int
}

// Ensure Provider implements stt.Provider and stt.Prober at compile time.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Prober   = (*Provider)(nil)
)

// NegotiateFormat records the call and returns NegotiateFormatResult.
func (p *Provider) NegotiateFormat(_ context.Context, native audio.Format) (audio.Format, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NegotiateCallCount++
	if p.NegotiateFormatErr != nil {
		return audio.Format{}, p.NegotiateFormatErr
	}
	if p.NegotiateFormatResult == (audio.Format{}) {
		return native, nil
	}
	return p.NegotiateFormatResult, nil
}

// StartStream records the call, attaches the session to input and returns it.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig, input *audio.InputStream) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	sess := p.Session
	if sess == nil {
		sess = &Session{}
	}
	sess.attach(input)
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Probe returns ProbeErr.
func (p *Provider) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProbeErr
}

// LastSession returns the most recently started session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// StartCount returns the number of StartStream calls.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle. It consumes the
// input stream on its own goroutine, recording every chunk, and closes the
// Results channel after the end of input unless KeepOpenAfterEOS is set.
type Session struct {
	mu sync.Mutex

	// OnChunk, if set, is called for every consumed chunk; the returned
	// results are published in order.
	OnChunk func(audio.Chunk) []stt.Result

	// KeepOpenAfterEOS leaves Results open after the input stream ends.
	KeepOpenAfterEOS bool

	// FinalizeErr, if non-nil, is returned by Finalize.
	FinalizeErr error

	// FinalizeDelay makes Finalize wait this long (or until its context
	// expires) before completing.
	FinalizeDelay time.Duration

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// FinalizeCallCount is the number of times Finalize was called.
	FinalizeCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	results chan stt.Result
	eos     chan struct{}
	closed  bool
	err     error
	chunks  []audio.Chunk
}

func (s *Session) init() {
	if s.results == nil {
		s.results = make(chan stt.Result, 256)
		s.eos = make(chan struct{})
	}
}

func (s *Session) attach(input *audio.InputStream) {
	s.mu.Lock()
	s.init()
	s.mu.Unlock()

	go func() {
		for c := range input.Chunks() {
			s.mu.Lock()
			s.chunks = append(s.chunks, c)
			hook := s.OnChunk
			s.mu.Unlock()
			if hook != nil {
				for _, r := range hook(c) {
					s.Publish(r)
				}
			}
		}
		close(s.eos)
		s.mu.Lock()
		keep := s.KeepOpenAfterEOS
		s.mu.Unlock()
		if !keep {
			s.closeResults(nil)
		}
	}()
}

// Results returns the results channel.
func (s *Session) Results() <-chan stt.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	return s.results
}

// Err returns the error passed to Fail, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finalize waits for the input stream to be fully consumed, then returns
// FinalizeErr.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	s.init()
	s.FinalizeCallCount++
	delay, ferr, eos := s.FinalizeDelay, s.FinalizeErr, s.eos
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-eos:
	case <-ctx.Done():
		return ctx.Err()
	}
	return ferr
}

// Close closes the results channel and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	cerr := s.CloseErr
	s.mu.Unlock()
	s.closeResults(nil)
	return cerr
}

// Publish delivers r on the results channel. It reports false if the
// session is already closed.
func (s *Session) Publish(r stt.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.closed {
		return false
	}
	s.results <- r
	return true
}

// Fail terminates the session with err, as a failing engine would.
func (s *Session) Fail(err error) {
	s.closeResults(err)
}

// Chunks returns a copy of every chunk consumed so far.
func (s *Session) Chunks() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Closed reports whether the results channel has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) closeResults(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.results)
}
