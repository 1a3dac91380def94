// Package wavfile implements [audio.CaptureDevice] by replaying a WAV file.
// It stands in for a microphone on headless hosts and in end-to-end tests:
// chunks are delivered on a ticker at the file's real-time rate, exactly as a
// platform audio thread would deliver them.
//
// Decoding is done by github.com/faiface/beep/wav, so every PCM layout beep
// understands is accepted. Audio is always delivered as 32-bit float.
package wavfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.CaptureDevice = (*Device)(nil)

// ErrAlreadyCapturing is returned by StartCapture while a capture is active.
var ErrAlreadyCapturing = errors.New("wavfile: device already capturing")

// Option is a functional option for [New].
type Option func(*Device)

// WithLoop restarts playback from the beginning at end of file. Without it the
// device goes silent (stops delivering) once the file is exhausted.
func WithLoop(loop bool) Option {
	return func(d *Device) { d.loop = loop }
}

// WithSpeed scales the delivery rate. 1 is real time; tests use larger values
// to replay quickly. Values ≤ 0 are ignored.
func WithSpeed(speed float64) Option {
	return func(d *Device) {
		if speed > 0 {
			d.speed = speed
		}
	}
}

// Device replays a WAV file as a capture source.
type Device struct {
	path  string
	loop  bool
	speed float64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns a Device reading path. The file is opened lazily on each
// NativeFormat and StartCapture call.
func New(path string, opts ...Option) *Device {
	d := &Device{path: path, speed: 1}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NativeFormat reports the sample rate and channel count from the WAV header.
func (d *Device) NativeFormat() (audio.Format, error) {
	s, f, err := d.open()
	if err != nil {
		return audio.Format{}, err
	}
	_ = s.Close()
	return nativeFormat(f), nil
}

// StartCapture implements [audio.CaptureDevice]. format must equal the value
// returned by [Device.NativeFormat].
func (d *Device) StartCapture(format audio.Format, framesPerChunk int, onChunk func([]byte)) error {
	if framesPerChunk <= 0 {
		return fmt.Errorf("wavfile: invalid frames per chunk %d", framesPerChunk)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrAlreadyCapturing
	}

	s, f, err := d.open()
	if err != nil {
		return err
	}
	if native := nativeFormat(f); native != format {
		_ = s.Close()
		return fmt.Errorf("wavfile: cannot capture %s from a %s file", format, native)
	}

	interval := time.Duration(float64(time.Second) * float64(framesPerChunk) / float64(format.SampleRate) / d.speed)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(s, format, framesPerChunk, interval, onChunk, d.stop, d.done)
	return nil
}

// StopCapture implements [audio.CaptureDevice]. It waits for the delivery
// goroutine to exit.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (d *Device) run(s beep.StreamSeekCloser, format audio.Format, frames int, interval time.Duration, onChunk func([]byte), stop, done chan struct{}) {
	defer close(done)
	defer s.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([][2]float64, frames)
	samples := make([]float32, frames*format.Channels)
	exhausted := false

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if exhausted {
			continue
		}

		n := fill(s, buf)
		if n < frames && d.loop {
			if err := s.Seek(0); err != nil {
				slog.Warn("wavfile: rewind failed", "path", d.path, "err", err)
			} else {
				n += fill(s, buf[n:])
			}
		}
		if n == 0 {
			exhausted = true
			slog.Debug("wavfile: end of file", "path", d.path)
			continue
		}

		for i := range frames {
			var l, r float64
			if i < n {
				l, r = buf[i][0], buf[i][1]
			}
			if format.Channels == 1 {
				samples[i] = float32(l)
			} else {
				samples[i*2] = float32(l)
				samples[i*2+1] = float32(r)
			}
		}
		onChunk(audio.EncodeSamples(samples, audio.EncodingF32LE))
	}
}

// fill reads from s until buf is full or the stream ends.
func fill(s beep.Streamer, buf [][2]float64) int {
	total := 0
	for total < len(buf) {
		n, ok := s.Stream(buf[total:])
		total += n
		if !ok || n == 0 {
			break
		}
	}
	return total
}

func (d *Device) open() (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("wavfile: %w", err)
	}
	s, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("wavfile: decode %s: %w", d.path, err)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		_ = s.Close()
		return nil, beep.Format{}, fmt.Errorf("wavfile: unsupported channel count %d", format.NumChannels)
	}
	return s, format, nil
}

func nativeFormat(f beep.Format) audio.Format {
	return audio.Format{
		SampleRate: int(f.SampleRate),
		Channels:   f.NumChannels,
		Encoding:   audio.EncodingF32LE,
	}
}
