// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// closeStreamMsg asks Deepgram to flush pending audio, send the remaining
// results and close the socket.
var closeStreamMsg = []byte(`{"type":"CloseStream"}`)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the sample rate the provider negotiates. Deepgram
// accepts any rate for linear16; 16 kHz keeps bandwidth low.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL (ws:// or wss://).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NegotiateFormat always requests mono linear16 at the configured rate.
func (p *Provider) NegotiateFormat(_ context.Context, _ audio.Format) (audio.Format, error) {
	return audio.Format{SampleRate: p.sampleRate, Channels: 1, Encoding: audio.EncodingS16LE}, nil
}

// StartStream opens a streaming transcription session with Deepgram and
// starts forwarding chunks from input. It respects cfg.Format, cfg.Language,
// and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig, input *audio.InputStream) (stt.SessionHandle, error) {
	if cfg.Format.Encoding != audio.EncodingS16LE {
		return nil, fmt.Errorf("deepgram: unsupported encoding %s", cfg.Format.Encoding)
	}
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The session outlives the request that started it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:     conn,
		input:    input,
		results:  make(chan stt.Result, 64),
		readDone: make(chan struct{}),
		ctx:      sctx,
		cancel:   cancel,
	}

	sess.wg.Add(2)
	go sess.readLoop()
	go sess.writeLoop()

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.Format.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Format.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Format.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:5")
		val := fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn    *websocket.Conn
	input   *audio.InputStream
	results chan stt.Result

	// readDone is closed when readLoop has published its last result.
	readDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Results returns the channel of incremental results.
func (s *session) Results() <-chan stt.Result { return s.results }

// Err returns the first transport error, if any.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Finalize waits until Deepgram has answered the CloseStream sent after the
// last chunk and closed the socket.
func (s *session) Finalize(ctx context.Context) error {
	select {
	case <-s.readDone:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the session. Pending results are discarded.
func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop forwards chunks from the input stream as binary messages and
// sends CloseStream once the stream ends.
func (s *session) writeLoop() {
	defer s.wg.Done()
	chunks := s.input.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if err := s.conn.Write(s.ctx, websocket.MessageText, closeStreamMsg); err != nil && s.ctx.Err() == nil {
					s.setErr(fmt.Errorf("deepgram: send close stream: %w", err))
				}
				return
			}
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk.Data); err != nil {
				if s.ctx.Err() == nil {
					s.setErr(fmt.Errorf("deepgram: write audio: %w", err))
				}
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and publishes them on the
// results channel until the socket closes.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			// Normal closure (after CloseStream) or our own Close.
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		r, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		r.Timestamp = time.Now()

		select {
		case s.results <- r:
		case <-s.ctx.Done():
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Result.
// Returns (Result, true) on success, or (zero, false) if the message should be
// ignored. Empty transcripts are ignored.
func parseDeepgramResponse(data []byte) (stt.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, false
	}
	if resp.Type != "Results" {
		return stt.Result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return stt.Result{}, false
	}
	return stt.Result{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Offset:     time.Duration(resp.Start * float64(time.Second)),
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, true
}
