// Package audio defines the audio types, format conversion, and streaming
// primitives shared by capture devices, the conversion pipeline, and
// transcription engines.
//
// The central types are:
//
//   - [Format]: sample rate, channel count, and sample encoding of a stream.
//   - [Chunk]: an immutable block of captured samples tagged with an arrival
//     sequence number.
//   - [InputStream]: the ordered, closable channel that carries converted
//     chunks to a transcription engine.
//   - [CaptureDevice]: the boundary to a physical or virtual audio input.
//
// This package lives under pkg/ because engine and device adapters outside
// this module are expected to consume [InputStream] and implement
// [CaptureDevice].
package audio

import (
	"fmt"
	"time"
)

// FramesPerChunk is the fixed number of frames a capture device delivers per
// callback invocation.
const FramesPerChunk = 4096

// Encoding identifies how individual samples are represented in a byte slice.
type Encoding int

const (
	// EncodingS16LE is 16-bit signed little-endian integer PCM.
	EncodingS16LE Encoding = iota

	// EncodingF32LE is 32-bit IEEE-754 little-endian float PCM in [-1, 1].
	EncodingF32LE
)

// String returns the human-readable name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingS16LE:
		return "s16le"
	case EncodingF32LE:
		return "f32le"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the width of a single sample, or 0 for unknown
// encodings.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingS16LE:
		return 2
	case EncodingF32LE:
		return 4
	default:
		return 0
	}
}

// Format describes the sample rate, channel count and sample encoding of an
// audio stream. Two formats are equal iff all fields match; equality decides
// whether conversion is a no-op.
type Format struct {
	// SampleRate in Hz (e.g., 48000 for a typical microphone, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Encoding of each sample.
	Encoding Encoding
}

// FrameSize returns the number of bytes occupied by one frame (one sample per
// channel).
func (f Format) FrameSize() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// Validate reports whether f describes a usable PCM stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: invalid channel count %d", f.Channels)
	}
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("audio: unsupported encoding %d", f.Encoding)
	}
	return nil
}

// String returns a human-readable description, e.g. "48000Hz stereo s16le".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels) + " " + f.Encoding.String()
}

// Chunk is a block of captured audio samples. Chunks are treated as immutable
// once created: converters return new chunks rather than modifying Data.
type Chunk struct {
	// Data holds interleaved PCM samples encoded according to Format.
	Data []byte

	// Format describes Data.
	Format Format

	// Seq is the arrival sequence number assigned by the capture source. It
	// increases monotonically within a session and is preserved by conversion.
	Seq uint64

	// CapturedAt is the wall-clock time the capture callback observed the chunk.
	CapturedAt time.Time
}

// Frames returns the number of complete frames in c.
func (c Chunk) Frames() int {
	fs := c.Format.FrameSize()
	if fs == 0 {
		return 0
	}
	return len(c.Data) / fs
}

// Duration returns the playback duration of c.
func (c Chunk) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
