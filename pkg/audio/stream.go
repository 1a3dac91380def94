package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStreamFinished is returned by [InputStream.Push] after [InputStream.Finish]
// has been called.
var ErrStreamFinished = errors.New("audio: input stream finished")

// ErrOutOfOrder is returned by [InputStream.Push] when a chunk's sequence
// number does not exceed the previously pushed one.
var ErrOutOfOrder = errors.New("audio: chunk out of order")

// DefaultStreamCapacity is the buffer size used by [NewInputStream] when the
// requested capacity is not positive. At 4096 frames per chunk and 48 kHz this
// is roughly five seconds of audio.
const DefaultStreamCapacity = 64

// InputStream is a single-producer, single-consumer buffered channel of
// converted [Chunk] values feeding a transcription engine.
//
// The producer calls [InputStream.Push] for each chunk and [InputStream.Finish]
// once at end of input. The consumer ranges over [InputStream.Chunks]; the
// channel is closed only after everything pushed before Finish has been
// received. Pushing after Finish is rejected with [ErrStreamFinished] and
// never panics.
type InputStream struct {
	ch   chan Chunk
	done chan struct{}

	// gate is held shared by Push while sending and exclusively by Finish
	// while closing ch, so a send never races a close.
	gate     sync.RWMutex
	finished bool
	once     sync.Once

	// lastSeq and pushed are only touched by the single producer.
	lastSeq uint64
	pushed  bool
}

// NewInputStream returns an open stream buffering up to capacity chunks.
func NewInputStream(capacity int) *InputStream {
	if capacity <= 0 {
		capacity = DefaultStreamCapacity
	}
	return &InputStream{
		ch:   make(chan Chunk, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues chunk. It blocks while the buffer is full until the consumer
// catches up, ctx is cancelled, or the stream is finished.
func (s *InputStream) Push(ctx context.Context, chunk Chunk) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	if s.finished {
		return ErrStreamFinished
	}
	if s.pushed && chunk.Seq <= s.lastSeq {
		return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, chunk.Seq, s.lastSeq)
	}

	select {
	case s.ch <- chunk:
		s.lastSeq = chunk.Seq
		s.pushed = true
		return nil
	case <-s.done:
		return ErrStreamFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish signals end of input. Chunks already queued remain readable; the
// channel returned by [InputStream.Chunks] is closed after they drain.
// Calling Finish more than once is safe.
func (s *InputStream) Finish() {
	s.once.Do(func() {
		// Wake a producer blocked on a full buffer before taking the gate.
		close(s.done)
		s.gate.Lock()
		s.finished = true
		close(s.ch)
		s.gate.Unlock()
	})
}

// Finished reports whether [InputStream.Finish] has been called.
func (s *InputStream) Finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Chunks returns the consumer side of the stream.
func (s *InputStream) Chunks() <-chan Chunk { return s.ch }

// Len returns the number of chunks currently buffered.
func (s *InputStream) Len() int { return len(s.ch) }
