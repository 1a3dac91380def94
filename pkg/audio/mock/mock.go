// Package mock provides an in-memory mock implementation of the
// [audio.CaptureDevice] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control return values. Audio is delivered by
// the test itself through [Device.Emit], which invokes the registered callback
// synchronously the way a platform audio thread would.
//
// Typical usage:
//
//	dev := &mock.Device{
//	    NativeFormatResult: audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingF32LE},
//	}
//	// ... start a session that captures from dev ...
//	dev.Emit(make([]byte, audio.FramesPerChunk*4))
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// errAlreadyCapturing is returned by StartCapture when a capture is active.
var errAlreadyCapturing = errors.New("mock: device already capturing")

// StartCall records the arguments of a single [Device.StartCapture] invocation.
type StartCall struct {
	// Format is the capture format requested.
	Format audio.Format
	// FramesPerChunk is the chunk size requested.
	FramesPerChunk int
}

// Device is a mock implementation of [audio.CaptureDevice].
// Set the exported Result fields before use; inspect the Call* fields after.
type Device struct {
	mu sync.Mutex

	// cbMu is held shared by Emit while the callback runs and exclusively by
	// StopCapture, so no callback is running once StopCapture returns.
	cbMu    sync.RWMutex
	onChunk func([]byte)

	// NativeFormatResult is returned by [Device.NativeFormat].
	NativeFormatResult audio.Format

	// NativeFormatError is returned by [Device.NativeFormat].
	NativeFormatError error

	// StartError is returned by [Device.StartCapture].
	StartError error

	// StopError is returned by [Device.StopCapture].
	StopError error

	// StartCalls records all StartCapture invocations.
	StartCalls []StartCall

	// CallCountNativeFormat records how many times NativeFormat was called.
	CallCountNativeFormat int

	// CallCountStop records how many times StopCapture was called.
	CallCountStop int
}

// NativeFormat implements [audio.CaptureDevice].
func (d *Device) NativeFormat() (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountNativeFormat++
	return d.NativeFormatResult, d.NativeFormatError
}

// StartCapture implements [audio.CaptureDevice]. Records the call and, unless
// StartError is set, registers onChunk for delivery via [Device.Emit].
func (d *Device) StartCapture(format audio.Format, framesPerChunk int, onChunk func([]byte)) error {
	d.mu.Lock()
	d.StartCalls = append(d.StartCalls, StartCall{Format: format, FramesPerChunk: framesPerChunk})
	err := d.StartError
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if d.onChunk != nil {
		return errAlreadyCapturing
	}
	d.onChunk = onChunk
	return nil
}

// StopCapture implements [audio.CaptureDevice]. Unregisters the callback and
// returns StopError.
func (d *Device) StopCapture() error {
	d.cbMu.Lock()
	d.onChunk = nil
	d.cbMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	return d.StopError
}

// Emit delivers data to the registered callback as if the platform produced
// one chunk. It reports whether a capture was active.
func (d *Device) Emit(data []byte) bool {
	d.cbMu.RLock()
	defer d.cbMu.RUnlock()
	if d.onChunk == nil {
		return false
	}
	d.onChunk(data)
	return true
}

// Capturing reports whether a capture is active.
func (d *Device) Capturing() bool {
	d.cbMu.RLock()
	defer d.cbMu.RUnlock()
	return d.onChunk != nil
}

// StartCount returns the number of StartCapture invocations.
func (d *Device) StartCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.StartCalls)
}

// StopCount returns the number of StopCapture invocations.
func (d *Device) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountStop
}
