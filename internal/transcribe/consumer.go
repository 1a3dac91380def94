package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// DefaultAnnotationDelimiter separates recognised text from engine
// annotations such as "{speaker: 1}".
const DefaultAnnotationDelimiter = "{"

// errResultsClosed is the cause reported when an engine closes its results
// channel without an error while the session is still running.
var errResultsClosed = errors.New("engine closed the result stream unexpectedly")

// NormalizeText strips engine annotations from text: when text contains
// delim, the part before its first occurrence is returned with surrounding
// whitespace trimmed. Otherwise text is returned unchanged. An empty delim
// disables stripping.
func NormalizeText(text, delim string) string {
	if delim == "" {
		return text
	}
	before, _, found := strings.Cut(text, delim)
	if !found {
		return text
	}
	return strings.TrimSpace(before)
}

// TextCorrector rewrites normalised transcript text, e.g. to fix misheard
// vocabulary. Implementations must be safe for concurrent use.
type TextCorrector interface {
	Correct(text string) string
}

// consumer reads engine results for one session and turns them into update
// events.
type consumer struct {
	handle    stt.SessionHandle
	delimiter string
	corrector func() TextCorrector
	emit      func(Event) bool
	running   func() bool
	onFailure func(error) bool
	metrics   *observe.Metrics
	log       *slog.Logger

	// started is closed once the Started event was delivered.
	started chan struct{}
	// flush switches the consumer to draining already published results.
	flush     chan struct{}
	flushOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

func newConsumer(handle stt.SessionHandle, delimiter string) *consumer {
	return &consumer{
		handle:    handle,
		delimiter: delimiter,
		started:   make(chan struct{}),
		flush:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// run forwards results until the results channel closes, ctx is cancelled,
// or a flush finds nothing more to read.
func (c *consumer) run(ctx context.Context) {
	defer close(c.done)

	select {
	case <-c.started:
	case <-ctx.Done():
		return
	}

	results := c.handle.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				c.closed()
				return
			}
			c.forward(r)
		case <-c.flush:
			for {
				select {
				case r, ok := <-results:
					if !ok {
						c.closed()
						return
					}
					c.forward(r)
				default:
					return
				}
			}
		}
	}
}

// closed handles the end of the results channel.
func (c *consumer) closed() {
	err := c.handle.Err()
	if err == nil && c.running() {
		err = errResultsClosed
	}
	if err == nil || c.onFailure(err) {
		return
	}
	if errors.Is(err, errResultsClosed) {
		// Stop won the race; an end of stream is expected now.
		return
	}
	// A failure during teardown is reported by Stop.
	c.log.Warn("engine stream failed during teardown", "err", err)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *consumer) forward(r stt.Result) {
	text := NormalizeText(r.Text, c.delimiter)
	if corr := c.corrector(); corr != nil {
		text = corr.Correct(text)
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := Event{
		Kind:       EventUpdate,
		Transcript: text,
		IsFinal:    r.IsFinal,
		Confidence: r.Confidence,
		Timestamp:  ts,
	}
	if c.emit(ev) {
		c.metrics.RecordTranscriptUpdate(context.Background(), r.IsFinal)
	}
}

// drainAndWait asks the consumer to forward what is already published and
// waits for it to exit.
func (c *consumer) drainAndWait() {
	c.flushOnce.Do(func() { close(c.flush) })
	<-c.done
}

// streamErr returns an engine failure observed during teardown.
func (c *consumer) streamErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
