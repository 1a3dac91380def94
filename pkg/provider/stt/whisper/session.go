package whisper

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// errFatal marks inference errors that end the session, as opposed to a
// single utterance failing.
var errFatal = errors.New("fatal")

// inferFunc transcribes one utterance of mono s16le PCM.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// session is a live whisper transcription session shared by the HTTP and
// native providers. It implements stt.SessionHandle. All segmenter state is
// confined to the processLoop goroutine.
type session struct {
	input *audio.InputStream
	seg   *segmenter
	infer inferFunc

	results chan stt.Result

	// done is closed when processLoop has published its last result.
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	errMu sync.Mutex
	err   error
}

// Compile-time assertion that session satisfies stt.SessionHandle.
var _ stt.SessionHandle = (*session)(nil)

func startSession(ctx context.Context, input *audio.InputStream, seg *segmenter, infer inferFunc) *session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		input:   input,
		seg:     seg,
		infer:   infer,
		results: make(chan stt.Result, 64),
		done:    make(chan struct{}),
		ctx:     sctx,
		cancel:  cancel,
	}
	go s.processLoop()
	return s
}

// Results returns the channel of final results. whisper.cpp is a batch
// engine, so there are no volatile results.
func (s *session) Results() <-chan stt.Result { return s.results }

// Err returns the error that ended the session, if any.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Finalize waits until the trailing utterance after end of input has been
// transcribed and published.
func (s *session) Finalize(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the session. Pending audio is discarded. Calling Close
// more than once is safe and returns nil.
func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *session) processLoop() {
	defer close(s.done)
	defer close(s.results)

	chunks := s.input.Chunks()
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				if u, ok := s.seg.flush(); ok {
					s.transcribe(u)
				}
				return
			}
			if u, ok := s.seg.push(chunk.Data); ok {
				if !s.transcribe(u) {
					return
				}
			}
		}
	}
}

// transcribe runs inference on u and publishes the result. It returns false
// if the session must end.
func (s *session) transcribe(u utterance) bool {
	text, err := s.infer(s.ctx, u.pcm)
	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		if errors.Is(err, errFatal) {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return false
		}
		slog.Warn("whisper: inference failed, dropping utterance", "err", err)
		return true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}

	select {
	case s.results <- stt.Result{
		Text:      text,
		IsFinal:   true,
		Timestamp: time.Now(),
		Offset:    u.offset,
		Duration:  u.duration,
	}:
		return true
	case <-s.ctx.Done():
		return false
	}
}
