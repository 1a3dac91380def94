package audio

// CaptureDevice is the boundary to an audio input such as a microphone.
// Implementations wrap platform audio APIs (see the malgo subpackage) or
// synthetic sources (see the wavfile subpackage).
//
// Implementations must be safe for concurrent use, but a device serves at
// most one capture at a time.
type CaptureDevice interface {
	// NativeFormat returns the format the device captures in without any
	// conversion. Capture always happens in this format; conversion to an
	// engine's format is the caller's job.
	NativeFormat() (Format, error)

	// StartCapture begins delivering audio. onChunk is invoked once per
	// framesPerChunk frames of audio in the given format, on a
	// realtime-constrained goroutine owned by the device. onChunk must return
	// quickly and must not retain data after returning unless it copies it.
	//
	// Returns an error if the device cannot be opened in format or is already
	// capturing.
	StartCapture(format Format, framesPerChunk int, onChunk func(data []byte)) error

	// StopCapture stops delivering audio. After StopCapture returns, onChunk
	// is not invoked again. Calling StopCapture when not capturing is a no-op.
	StopCapture() error
}

// Rechunker accumulates arbitrarily sized PCM buffers and emits blocks of
// exactly framesPerChunk frames. Platform callbacks rarely deliver the exact
// period size requested; devices use a Rechunker to honour the fixed chunk
// contract of [CaptureDevice].
//
// A Rechunker is not safe for concurrent use; it is owned by the device's
// callback goroutine.
type Rechunker struct {
	size int
	buf  []byte
	emit func([]byte)
}

// NewRechunker returns a Rechunker emitting blocks of framesPerChunk frames
// of frameSize bytes each.
func NewRechunker(frameSize, framesPerChunk int, emit func([]byte)) *Rechunker {
	size := frameSize * framesPerChunk
	return &Rechunker{
		size: size,
		buf:  make([]byte, 0, size),
		emit: emit,
	}
}

// Write appends data and emits every complete block. Emitted slices are
// freshly allocated and owned by the receiver.
func (r *Rechunker) Write(data []byte) {
	for len(data) > 0 {
		n := min(r.size-len(r.buf), len(data))
		r.buf = append(r.buf, data[:n]...)
		data = data[n:]
		if len(r.buf) == r.size {
			block := r.buf
			r.buf = make([]byte, 0, r.size)
			r.emit(block)
		}
	}
}

// Reset discards any partially accumulated block.
func (r *Rechunker) Reset() {
	r.buf = r.buf[:0]
}
