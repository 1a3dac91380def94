// Package malgo implements [audio.CaptureDevice] on top of miniaudio via the
// github.com/gen2brain/malgo bindings. It captures from the system default
// input device.
//
// Usage:
//
//	dev, err := malgo.New()
//	if err != nil { ... }
//	defer dev.Close()
//	native, err := dev.NativeFormat()
package malgo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.CaptureDevice = (*Device)(nil)

// ErrAlreadyCapturing is returned by StartCapture while a capture is active.
var ErrAlreadyCapturing = errors.New("malgo: device already capturing")

// Option is a functional option for [New].
type Option func(*Device)

// WithPeriodFrames sets the period size requested from the backend. The
// backend may deliver a different size; the device re-chunks either way.
// Defaults to [audio.FramesPerChunk].
func WithPeriodFrames(n uint32) Option {
	return func(d *Device) { d.periodFrames = n }
}

// Device captures audio from the default input device.
// All methods are safe for concurrent use.
type Device struct {
	periodFrames uint32

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	active atomic.Bool
	closed bool
}

// New initialises a miniaudio context. Call [Device.Close] to release it.
func New(opts ...Option) (*Device, error) {
	d := &Device{periodFrames: audio.FramesPerChunk}
	for _, o := range opts {
		o(d)
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	d.ctx = ctx
	return d, nil
}

// NativeFormat opens the default capture device without requesting a format
// and reports what the backend chose.
func (d *Device) NativeFormat() (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.Format{}, errors.New("malgo: device closed")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	probe, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return audio.Format{}, fmt.Errorf("malgo: open default capture device: %w", err)
	}
	defer probe.Uninit()

	f := audio.Format{
		SampleRate: int(probe.SampleRate()),
		Channels:   int(probe.CaptureChannels()),
		Encoding:   encodingFromMalgo(probe.CaptureFormat()),
	}
	if err := f.Validate(); err != nil {
		return audio.Format{}, fmt.Errorf("malgo: native format: %w", err)
	}
	return f, nil
}

// StartCapture implements [audio.CaptureDevice].
func (d *Device) StartCapture(format audio.Format, framesPerChunk int, onChunk func([]byte)) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("malgo: %w", err)
	}
	if framesPerChunk <= 0 {
		return fmt.Errorf("malgo: invalid frames per chunk %d", framesPerChunk)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("malgo: device closed")
	}
	if d.dev != nil {
		return ErrAlreadyCapturing
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgoFormat(format.Encoding)
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInFrames = d.periodFrames

	rc := audio.NewRechunker(format.FrameSize(), framesPerChunk, onChunk)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if !d.active.Load() {
				return
			}
			rc.Write(input)
		},
	}

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("malgo: init capture device: %w", err)
	}
	d.active.Store(true)
	if err := dev.Start(); err != nil {
		d.active.Store(false)
		dev.Uninit()
		return fmt.Errorf("malgo: start capture device: %w", err)
	}
	d.dev = dev
	slog.Debug("malgo: capture started", "format", format.String(), "frames_per_chunk", framesPerChunk)
	return nil
}

// StopCapture implements [audio.CaptureDevice]. miniaudio's stop waits for
// the audio thread, so no callback runs after it returns.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	d.active.Store(false)
	err := d.dev.Stop()
	d.dev.Uninit()
	d.dev = nil
	if err != nil {
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}
	return nil
}

// Close stops any active capture and releases the miniaudio context.
func (d *Device) Close() error {
	stopErr := d.StopCapture()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return stopErr
	}
	d.closed = true
	var ctxErr error
	if err := d.ctx.Uninit(); err != nil {
		ctxErr = fmt.Errorf("malgo: uninit context: %w", err)
	}
	d.ctx.Free()
	return errors.Join(stopErr, ctxErr)
}

// encodingFromMalgo maps a miniaudio sample format to an [audio.Encoding].
// Formats without a direct equivalent are reported as float so that capture
// requests f32 and miniaudio converts internally.
func encodingFromMalgo(f malgo.FormatType) audio.Encoding {
	if f == malgo.FormatS16 {
		return audio.EncodingS16LE
	}
	return audio.EncodingF32LE
}

func malgoFormat(e audio.Encoding) malgo.FormatType {
	if e == audio.EncodingS16LE {
		return malgo.FormatS16
	}
	return malgo.FormatF32
}
