package transcribe

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
)

// rawChunk is a copied device buffer waiting for a sequence number.
type rawChunk struct {
	data []byte
	at   time.Time
}

// converted is the outcome of converting one chunk. A failed conversion
// travels as a tombstone (err != nil) so the sequencer can advance past it.
type converted struct {
	seq   uint64
	chunk audio.Chunk
	err   error
}

// pipeline moves captured audio to the engine input stream:
//
//	offer -> in -> dispatcher (assigns Seq) -> jobs -> N converters
//	      -> results -> sequencer (reorders by Seq) -> InputStream
//
// offer never blocks; when in is full the chunk is dropped before it
// receives a sequence number. Everything after offer applies backpressure
// up to in.
type pipeline struct {
	native  audio.Format
	conv    *audio.Converter
	input   *audio.InputStream
	workers int
	metrics *observe.Metrics
	log     *slog.Logger

	in        chan rawChunk
	closeOnce sync.Once
	done      chan struct{}

	overflow  atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	streamed  atomic.Int64
	runErrMu  sync.Mutex
	runErrVal error
}

func newPipeline(native, target audio.Format, input *audio.InputStream, workers, queue int, m *observe.Metrics, log *slog.Logger) *pipeline {
	return &pipeline{
		native:  native,
		conv:    &audio.Converter{Target: target},
		input:   input,
		workers: max(workers, 1),
		metrics: m,
		log:     log,
		in:      make(chan rawChunk, max(queue, 1)),
		done:    make(chan struct{}),
	}
}

// start launches the pipeline goroutines. ctx bounds the whole session;
// cancelling it abandons queued audio.
func (p *pipeline) start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan audio.Chunk, p.workers)
	results := make(chan converted, p.workers*2)

	g.Go(func() error { return p.dispatch(gctx, jobs) })

	var workers errgroup.Group
	for range p.workers {
		workers.Go(func() error { return p.convert(gctx, jobs, results) })
	}
	g.Go(func() error {
		err := workers.Wait()
		close(results)
		return err
	})

	g.Go(func() error { return p.sequence(gctx, results) })

	go func() {
		defer close(p.done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			p.runErrMu.Lock()
			p.runErrVal = err
			p.runErrMu.Unlock()
		}
	}()
}

// offer hands a device buffer to the pipeline without blocking. data is
// copied. Reports false when the chunk was dropped.
func (p *pipeline) offer(data []byte, at time.Time) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case p.in <- rawChunk{data: buf, at: at}:
		return true
	default:
		p.overflow.Add(1)
		p.metrics.RecordChunkDropped(context.Background(), observe.DropOverflow)
		return false
	}
}

// drain closes the intake and waits until every accepted chunk has been
// converted and pushed (or dropped). The capture callback must be stopped
// first. Safe to call more than once.
func (p *pipeline) drain() {
	p.closeOnce.Do(func() { close(p.in) })
	<-p.done
}

func (p *pipeline) dispatch(ctx context.Context, jobs chan<- audio.Chunk) error {
	defer close(jobs)
	var seq uint64
	for raw := range p.in {
		seq++
		c := audio.Chunk{Data: raw.data, Format: p.native, Seq: seq, CapturedAt: raw.at}
		select {
		case jobs <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *pipeline) convert(ctx context.Context, jobs <-chan audio.Chunk, results chan<- converted) error {
	for c := range jobs {
		start := time.Now()
		out, err := p.conv.Convert(c)
		p.metrics.ConversionDuration.Record(ctx, time.Since(start).Seconds())
		select {
		case results <- converted{seq: c.Seq, chunk: out, err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *pipeline) sequence(ctx context.Context, results <-chan converted) error {
	var (
		pending reorderHeap
		next    uint64 = 1
	)
	for r := range results {
		heap.Push(&pending, r)
		for pending.Len() > 0 && pending[0].seq == next {
			p.push(ctx, heap.Pop(&pending).(converted))
			next++
		}
	}
	if pending.Len() > 0 {
		p.log.Warn("pipeline stopped with chunks out of sequence", "pending", pending.Len(), "next_seq", next)
	}
	return nil
}

func (p *pipeline) push(ctx context.Context, r converted) {
	if r.err != nil {
		p.failed.Add(1)
		p.metrics.RecordChunkDropped(ctx, observe.DropConversion)
		return
	}
	if err := p.input.Push(ctx, r.chunk); err != nil {
		p.rejected.Add(1)
		p.metrics.RecordChunkDropped(context.WithoutCancel(ctx), observe.DropStream)
		p.log.Debug("chunk not accepted by input stream", "seq", r.seq, "err", err)
		return
	}
	p.streamed.Add(1)
	p.metrics.ChunksStreamed.Add(ctx, 1)
}

// runErr returns the first unexpected error of the pipeline goroutines
// after drain.
func (p *pipeline) runErr() error {
	p.runErrMu.Lock()
	defer p.runErrMu.Unlock()
	return p.runErrVal
}

// pipelineStats summarises what happened to the audio of one session.
type pipelineStats struct {
	Streamed   int64
	Overflow   int64
	Conversion int64
	Rejected   int64
}

func (p *pipeline) stats() pipelineStats {
	return pipelineStats{
		Streamed:   p.streamed.Load(),
		Overflow:   p.overflow.Load(),
		Conversion: p.failed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// reorderHeap is a min-heap of converted chunks keyed by sequence number.
type reorderHeap []converted

func (h reorderHeap) Len() int           { return len(h) }
func (h reorderHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h reorderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *reorderHeap) Push(x any)        { *h = append(*h, x.(converted)) }
func (h *reorderHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
