package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// sineChunk builds a chunk of n frames of a 440 Hz tone in format f.
func sineChunk(f audio.Format, n int, seq uint64) audio.Chunk {
	samples := make([]float32, n*f.Channels)
	for i := range n {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate)))
		for ch := range f.Channels {
			samples[i*f.Channels+ch] = v
		}
	}
	return audio.Chunk{
		Data:   audio.EncodeSamples(samples, f.Encoding),
		Format: f,
		Seq:    seq,
	}
}

var (
	mic48k  = audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingF32LE}
	stt16k  = audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingS16LE}
	stereo  = audio.Format{SampleRate: 44100, Channels: 2, Encoding: audio.EncodingS16LE}
	mono441 = audio.Format{SampleRate: 44100, Channels: 1, Encoding: audio.EncodingS16LE}
)

func TestConvert_Passthrough(t *testing.T) {
	t.Parallel()

	in := sineChunk(stt16k, audio.FramesPerChunk, 7)
	out, err := audio.Convert(in, stt16k)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.Seq != in.Seq || out.Format != in.Format || len(out.Data) != len(in.Data) {
		t.Fatalf("passthrough changed chunk: got %+v", out.Format)
	}
	if &out.Data[0] != &in.Data[0] {
		t.Error("passthrough copied the sample buffer")
	}
}

func TestConvert_ResampleFrameCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    audio.Format
		dst    audio.Format
		frames int
	}{
		{"48k float to 16k s16", mic48k, stt16k, audio.FramesPerChunk},
		{"44.1k stereo to 16k mono", stereo, stt16k, audio.FramesPerChunk},
		{"16k to 48k", stt16k, audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingS16LE}, 1000},
		{"odd frame count", audio.Format{SampleRate: 22050, Channels: 1, Encoding: audio.EncodingS16LE}, stt16k, 333},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := audio.Convert(sineChunk(tc.src, tc.frames, 1), tc.dst)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			exact := float64(tc.frames) * float64(tc.dst.SampleRate) / float64(tc.src.SampleRate)
			lo, hi := int(math.Floor(exact)), int(math.Ceil(exact))
			if got := out.Frames(); got < lo || got > hi {
				t.Errorf("frames = %d, want in [%d, %d]", got, lo, hi)
			}
			if out.Format != tc.dst {
				t.Errorf("format = %v, want %v", out.Format, tc.dst)
			}
			if out.Seq != 1 {
				t.Errorf("seq = %d, want 1", out.Seq)
			}
		})
	}
}

func TestConvert_StereoToMonoAverages(t *testing.T) {
	t.Parallel()

	in := audio.Chunk{Data: samplesToBytes([]int16{100, 200, -100, -200}), Format: stereo}
	out, err := audio.Convert(in, mono441)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := bytesToSamples(out.Data)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvert_MonoToStereoDuplicates(t *testing.T) {
	t.Parallel()

	in := audio.Chunk{Data: samplesToBytes([]int16{100, 200, 300}), Format: mono441}
	out, err := audio.Convert(in, stereo)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := bytesToSamples(out.Data)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvert_EncodingRoundTripKeepsS16Exact(t *testing.T) {
	t.Parallel()

	f32 := audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingF32LE}
	in := audio.Chunk{Data: samplesToBytes([]int16{0, 1, -1, 32767, -32768, 1234}), Format: stt16k}

	mid, err := audio.Convert(in, f32)
	if err != nil {
		t.Fatalf("Convert to f32: %v", err)
	}
	back, err := audio.Convert(mid, stt16k)
	if err != nil {
		t.Fatalf("Convert to s16: %v", err)
	}
	got, want := bytesToSamples(back.Data), bytesToSamples(in.Data)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvert_Clamping(t *testing.T) {
	t.Parallel()

	f32 := audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingF32LE}
	in := audio.Chunk{Data: audio.EncodeSamples([]float32{1.5, -2}, audio.EncodingF32LE), Format: f32}
	out, err := audio.Convert(in, stt16k)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := bytesToSamples(out.Data)
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestConvert_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		chunk audio.Chunk
		dst   audio.Format
	}{
		{"misaligned data", audio.Chunk{Data: []byte{1, 2, 3}, Format: stt16k}, mic48k},
		{"zero source rate", audio.Chunk{Data: []byte{1, 2}, Format: audio.Format{Channels: 1}}, stt16k},
		{"unknown target encoding", sineChunk(stt16k, 10, 0), audio.Format{SampleRate: 8000, Channels: 1, Encoding: audio.Encoding(9)}},
		{"stereo to 6ch", sineChunk(stereo, 10, 0), audio.Format{SampleRate: 44100, Channels: 6}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.Convert(tc.chunk, tc.dst)
			if !errors.Is(err, audio.ErrConversion) {
				t.Fatalf("err = %v, want ErrConversion", err)
			}
		})
	}
}

func TestConverter_Convert(t *testing.T) {
	t.Parallel()

	c := &audio.Converter{Target: stt16k}
	out, err := c.Convert(sineChunk(mic48k, audio.FramesPerChunk, 3))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.Format != stt16k {
		t.Errorf("format = %v, want %v", out.Format, stt16k)
	}
	if _, err := c.Convert(audio.Chunk{Data: []byte{1}, Format: mic48k}); err == nil {
		t.Error("expected error for misaligned chunk")
	}
}

func TestResampledFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, src, dst, want int
	}{
		{4096, 48000, 16000, 1365},
		{4096, 44100, 16000, 1486},
		{4096, 16000, 16000, 4096},
		{100, 0, 16000, 100},
	}
	for _, tc := range tests {
		if got := audio.ResampledFrames(tc.n, tc.src, tc.dst); got != tc.want {
			t.Errorf("ResampledFrames(%d, %d, %d) = %d, want %d", tc.n, tc.src, tc.dst, got, tc.want)
		}
	}
}

func TestResample_Empty(t *testing.T) {
	t.Parallel()
	if out := audio.Resample(nil, 1, 48000, 16000); out != nil {
		t.Errorf("expected nil, got %d samples", len(out))
	}
}
