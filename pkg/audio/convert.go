package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrConversion is wrapped by every error returned from [Convert]. A failed
// conversion affects only the offending chunk.
var ErrConversion = errors.New("audio: conversion failed")

// Convert converts chunk to target. If the chunk is already in the target
// format it is returned unchanged (no copy). Otherwise the samples are
// decoded, channel-mixed, resampled and re-encoded; Seq and CapturedAt are
// preserved.
//
// The resampled frame count is round(frames × target.SampleRate /
// source.SampleRate).
func Convert(chunk Chunk, target Format) (Chunk, error) {
	if chunk.Format == target {
		return chunk, nil
	}
	src := chunk.Format
	if err := src.Validate(); err != nil {
		return Chunk{}, fmt.Errorf("%w: source: %w", ErrConversion, err)
	}
	if err := target.Validate(); err != nil {
		return Chunk{}, fmt.Errorf("%w: target: %w", ErrConversion, err)
	}
	if len(chunk.Data)%src.FrameSize() != 0 {
		return Chunk{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames",
			ErrConversion, len(chunk.Data), src.FrameSize())
	}
	if src.Channels != target.Channels && src.Channels != 1 && target.Channels != 1 {
		return Chunk{}, fmt.Errorf("%w: cannot map %d channels to %d",
			ErrConversion, src.Channels, target.Channels)
	}

	samples := DecodeSamples(chunk.Data, src.Encoding)
	channels := src.Channels

	// Downmix before resampling so fewer channels are interpolated; upmix after.
	if target.Channels < channels {
		samples = MixChannels(samples, channels, target.Channels)
		channels = target.Channels
	}
	samples = Resample(samples, channels, src.SampleRate, target.SampleRate)
	if target.Channels != channels {
		samples = MixChannels(samples, channels, target.Channels)
	}

	return Chunk{
		Data:       EncodeSamples(samples, target.Encoding),
		Format:     target,
		Seq:        chunk.Seq,
		CapturedAt: chunk.CapturedAt,
	}, nil
}

// Converter converts chunks to a fixed target format. It logs a warning on
// the first format mismatch and on the first failure so that a misconfigured
// device is visible without flooding the log once per chunk.
// Safe for concurrent use.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedFailure  sync.Once
}

// Convert converts chunk to c.Target. See [Convert].
func (c *Converter) Convert(chunk Chunk) (Chunk, error) {
	if chunk.Format == c.Target {
		return chunk, nil
	}
	c.warnedMismatch.Do(func() {
		slog.Info("audio format mismatch: converting",
			"from", chunk.Format.String(),
			"to", c.Target.String(),
		)
	})
	out, err := Convert(chunk, c.Target)
	if err != nil {
		c.warnedFailure.Do(func() {
			slog.Warn("audio format converter: dropping unconvertible chunk",
				"seq", chunk.Seq,
				"bytes", len(chunk.Data),
				"err", err,
			)
		})
		return Chunk{}, err
	}
	return out, nil
}

// ResampledFrames returns the number of frames produced when resampling n
// frames from srcRate to dstRate.
func ResampledFrames(n, srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return n
	}
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

// DecodeSamples converts PCM bytes to interleaved float32 samples in [-1, 1].
// Trailing bytes that do not form a whole sample are ignored.
func DecodeSamples(pcm []byte, enc Encoding) []float32 {
	switch enc {
	case EncodingS16LE:
		n := len(pcm) / 2
		out := make([]float32, n)
		for i := range n {
			out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		}
		return out
	case EncodingF32LE:
		n := len(pcm) / 4
		out := make([]float32, n)
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
		return out
	default:
		return nil
	}
}

// EncodeSamples converts interleaved float32 samples to PCM bytes. Samples
// outside [-1, 1] are clamped when encoding to integer PCM.
func EncodeSamples(samples []float32, enc Encoding) []byte {
	switch enc {
	case EncodingS16LE:
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToS16(s)))
		}
		return out
	case EncodingF32LE:
		out := make([]byte, len(samples)*4)
		for i, s := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
		return out
	default:
		return nil
	}
}

func floatToS16(s float32) int16 {
	v := math.Round(float64(s) * 32768.0)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// MixChannels converts interleaved samples from src to dst channels. Mixing
// down to mono averages all channels per frame; mixing up from mono
// duplicates the sample into every channel. Other mappings return the input
// unchanged; callers must reject them beforehand.
func MixChannels(samples []float32, src, dst int) []float32 {
	if src == dst || src <= 0 || dst <= 0 {
		return samples
	}
	frames := len(samples) / src
	switch {
	case dst == 1:
		out := make([]float32, frames)
		for i := range frames {
			var sum float32
			for ch := range src {
				sum += samples[i*src+ch]
			}
			out[i] = sum / float32(src)
		}
		return out
	case src == 1:
		out := make([]float32, frames*dst)
		for i := range frames {
			for ch := range dst {
				out[i*dst+ch] = samples[i]
			}
		}
		return out
	default:
		return samples
	}
}

// Resample resamples interleaved samples with the given channel count from
// srcRate to dstRate using linear interpolation. If the rates are equal the
// input is returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := ResampledFrames(srcFrames, srcRate, dstRate)
	if srcFrames == 0 || dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		if idx >= srcFrames {
			idx = srcFrames - 1
		}
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		frac := float32(srcPos - float64(idx))
		for ch := range channels {
			s0 := samples[idx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}
