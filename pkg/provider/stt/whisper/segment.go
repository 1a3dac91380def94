package whisper

import (
	"encoding/binary"
	"math"
	"strings"
	"time"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// utterance is a contiguous block of speech cut out of the stream.
type utterance struct {
	pcm      []byte
	offset   time.Duration
	duration time.Duration
}

// segmenter splits a PCM stream into utterances using an energy-based
// silence detector. It is confined to one goroutine.
type segmenter struct {
	silenceThresholdMs int
	maxBufferBytes     int
	bytesPerMs         int

	buffer      []byte // accumulated PCM for the current utterance
	bufferStart int    // stream byte offset of buffer[0]
	consumed    int    // total stream bytes seen
	hadSpeech   bool   // true once any high-energy chunk has been buffered
	silenceMs   int    // consecutive silence accumulated after speech (ms)
}

func newSegmenter(sampleRate, silenceThresholdMs, maxBufferDurationMs int) *segmenter {
	// bytesPerMs: mono PCM bytes corresponding to 1 ms of audio.
	bytesPerMs := sampleRate * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz, mono, 16-bit
	}
	return &segmenter{
		silenceThresholdMs: silenceThresholdMs,
		maxBufferBytes:     maxBufferDurationMs * bytesPerMs,
		bytesPerMs:         bytesPerMs,
	}
}

// push feeds one chunk and returns a completed utterance, if any.
func (g *segmenter) push(chunk []byte) (utterance, bool) {
	start := g.consumed
	g.consumed += len(chunk)

	if computeRMS(chunk) < defaultRMSThreshold {
		// Leading silence before any speech is discarded.
		if !g.hadSpeech {
			return utterance{}, false
		}
		g.silenceMs += len(chunk) / g.bytesPerMs
		g.buffer = append(g.buffer, chunk...)
		if g.silenceMs >= g.silenceThresholdMs {
			return g.flush()
		}
		return utterance{}, false
	}

	if !g.hadSpeech {
		g.bufferStart = start
	}
	g.hadSpeech = true
	g.silenceMs = 0
	g.buffer = append(g.buffer, chunk...)
	// Force a cut if the buffer has grown past the size limit.
	if g.maxBufferBytes > 0 && len(g.buffer) >= g.maxBufferBytes {
		return g.flush()
	}
	return utterance{}, false
}

// flush returns the buffered utterance, if it contains speech, and resets.
func (g *segmenter) flush() (utterance, bool) {
	pcm, had, start := g.buffer, g.hadSpeech, g.bufferStart
	g.buffer = nil
	g.hadSpeech = false
	g.silenceMs = 0
	if len(pcm) == 0 || !had {
		return utterance{}, false
	}
	return utterance{
		pcm:      pcm,
		offset:   time.Duration(start/g.bytesPerMs) * time.Millisecond,
		duration: time.Duration(len(pcm)/g.bytesPerMs) * time.Millisecond,
	}, true
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0–32 767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2 // number of 16-bit samples
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// whisperLanguage reduces a BCP-47 tag to the ISO-639-1 code whisper.cpp
// understands ("en-US" → "en").
func whisperLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
