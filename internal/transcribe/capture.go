package transcribe

import (
	"context"
	"sync"
	"time"
	"weak"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
)

// captureSource connects a device callback to a session's pipeline.
//
// The callback runs on the device's realtime goroutine and never blocks: it
// takes the read side of mu with TryRLock, so a concurrent stop wins, and
// hands chunks off without waiting. It reaches the pipeline through a weak
// pointer and only while the session it was created for is still accepting
// audio, so a late callback can neither keep a released session alive nor
// feed a newer one.
type captureSource struct {
	device    audio.CaptureDevice
	format    audio.Format
	gen       uint64
	target    weak.Pointer[pipeline]
	accepting func(gen uint64) bool
	metrics   *observe.Metrics

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

func newCaptureSource(dev audio.CaptureDevice, format audio.Format, gen uint64, p *pipeline, accepting func(uint64) bool, m *observe.Metrics) *captureSource {
	return &captureSource{
		device:    dev,
		format:    format,
		gen:       gen,
		target:    weak.Make(p),
		accepting: accepting,
		metrics:   m,
	}
}

func (c *captureSource) start() error {
	return c.device.StartCapture(c.format, audio.FramesPerChunk, c.onChunk)
}

func (c *captureSource) onChunk(data []byte) {
	if !c.mu.TryRLock() {
		return
	}
	defer c.mu.RUnlock()
	if c.stopped || !c.accepting(c.gen) {
		return
	}
	p := c.target.Value()
	if p == nil {
		return
	}
	c.metrics.ChunksCaptured.Add(context.Background(), 1)
	p.offer(data, time.Now())
}

// stop detaches the callback and stops the device. Once stop returns no
// callback is handing off data. Safe to call more than once.
func (c *captureSource) stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		c.stopErr = c.device.StopCapture()
	})
	return c.stopErr
}
