package wavfile_test

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/wavfile"
)

// writeWAV writes a 16-bit PCM WAV file of frames silent-ish frames.
func writeWAV(t *testing.T, sampleRate, channels, frames int) string {
	t.Helper()
	dataSize := frames * channels * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(i%200-100)))
	}

	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestDevice_NativeFormat(t *testing.T) {
	t.Parallel()

	dev := wavfile.New(writeWAV(t, 22050, 2, 100))
	f, err := dev.NativeFormat()
	if err != nil {
		t.Fatalf("NativeFormat: %v", err)
	}
	want := audio.Format{SampleRate: 22050, Channels: 2, Encoding: audio.EncodingF32LE}
	if f != want {
		t.Fatalf("format = %v, want %v", f, want)
	}
}

func TestDevice_NativeFormatMissingFile(t *testing.T) {
	t.Parallel()

	dev := wavfile.New(filepath.Join(t.TempDir(), "missing.wav"))
	if _, err := dev.NativeFormat(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestDevice_ReplaysWholeFile(t *testing.T) {
	t.Parallel()

	const frames = 1024
	dev := wavfile.New(writeWAV(t, 16000, 1, frames*8), wavfile.WithSpeed(200))
	f, err := dev.NativeFormat()
	if err != nil {
		t.Fatalf("NativeFormat: %v", err)
	}

	var (
		mu     sync.Mutex
		chunks int
		sizes  = map[int]int{}
	)
	if err := dev.StartCapture(f, frames, func(b []byte) {
		mu.Lock()
		chunks++
		sizes[len(b)]++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := dev.StartCapture(f, frames, func([]byte) {}); !errors.Is(err, wavfile.ErrAlreadyCapturing) {
		t.Fatalf("second StartCapture err = %v, want ErrAlreadyCapturing", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := chunks
		mu.Unlock()
		if n >= 8 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)

	if err := dev.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if chunks != 8 {
		t.Fatalf("delivered %d chunks, want 8", chunks)
	}
	if sizes[frames*4] != 8 {
		t.Fatalf("chunk sizes = %v, want all %d bytes", sizes, frames*4)
	}
}

func TestDevice_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := wavfile.New(writeWAV(t, 16000, 1, 100))
	if err := dev.StopCapture(); err != nil {
		t.Fatalf("StopCapture on idle device: %v", err)
	}
}

func TestDevice_RejectsForeignFormat(t *testing.T) {
	t.Parallel()

	dev := wavfile.New(writeWAV(t, 16000, 1, 100))
	err := dev.StartCapture(audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingF32LE}, 256, func([]byte) {})
	if err == nil {
		_ = dev.StopCapture()
		t.Fatal("expected error for mismatched format")
	}
}
