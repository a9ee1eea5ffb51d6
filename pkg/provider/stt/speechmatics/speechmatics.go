// Package speechmatics provides a Speechmatics-backed STT provider using the
// realtime WebSocket API. It implements stt.Provider and stt.TokenSource.
package speechmatics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	// DefaultRealtimeURL is the realtime transcription endpoint.
	DefaultRealtimeURL = "wss://eu2.rt.speechmatics.com/v2"

	defaultLanguage       = "en"
	defaultOperatingPoint = "standard"
	defaultSampleRate     = 48000
	defaultStartTimeout   = 10 * time.Second
)

// Option is a functional option for configuring the Speechmatics Provider.
type Option func(*Provider)

// WithURL overrides the realtime endpoint.
func WithURL(u string) Option {
	return func(p *Provider) { p.url = u }
}

// WithLanguage sets the default recognition language (e.g. "en", "de").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithOperatingPoint sets the default model ("standard" or "enhanced").
func WithOperatingPoint(op string) Option {
	return func(p *Provider) { p.operatingPoint = op }
}

// WithSampleRate sets the default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithMaxDelay sets the maximum delay in seconds before a final is emitted.
func WithMaxDelay(seconds float64) Option {
	return func(p *Provider) { p.maxDelay = seconds }
}

// WithStartTimeout bounds the wait for RecognitionStarted.
func WithStartTimeout(d time.Duration) Option {
	return func(p *Provider) { p.startTimeout = d }
}

// Provider implements stt.Provider backed by the Speechmatics realtime API.
type Provider struct {
	url            string
	language       string
	operatingPoint string
	sampleRate     int
	maxDelay       float64
	startTimeout   time.Duration
}

// New creates a new Speechmatics Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		url:            DefaultRealtimeURL,
		language:       defaultLanguage,
		operatingPoint: defaultOperatingPoint,
		sampleRate:     defaultSampleRate,
		startTimeout:   defaultStartTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := url.Parse(p.url); err != nil {
		return nil, fmt.Errorf("speechmatics: invalid url %q: %w", p.url, err)
	}
	return p, nil
}

// StartStream opens a realtime session authorised by cfg.Token, sends
// StartRecognition and waits for RecognitionStarted.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.Token == "" {
		return nil, stt.ErrNoCredential
	}
	wsURL, err := p.buildURL(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("speechmatics: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("speechmatics: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	start, err := json.Marshal(p.startRecognition(cfg))
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("speechmatics: encode StartRecognition: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, start); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("speechmatics: send StartRecognition: %w", err)
	}
	if err := p.awaitStarted(ctx, conn); err != nil {
		conn.CloseNow()
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		cancel:    cancel,
		events:    make(chan stt.Event, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
		finishing: make(chan struct{}),
		eot:       make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(sessCtx)
	go sess.writeLoop(sessCtx)
	return sess, nil
}

func (p *Provider) buildURL(token string) (string, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("jwt", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) startRecognition(cfg stt.StreamConfig) startRecognition {
	enc := cfg.Encoding
	if enc == "" {
		enc = stt.EncodingPCMF32LE
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	op := cfg.OperatingPoint
	if op == "" {
		op = p.operatingPoint
	}
	return startRecognition{
		Message: "StartRecognition",
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   string(enc),
			SampleRate: sr,
		},
		TranscriptionConfig: transcriptionConfig{
			Language:       lang,
			EnablePartials: cfg.EnablePartials,
			OperatingPoint: op,
			MaxDelay:       p.maxDelay,
		},
	}
}

func (p *Provider) awaitStarted(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, p.startTimeout)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("speechmatics: await RecognitionStarted: %w", stt.NewConnectionError(err))
		}
		var m serverMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Message {
		case "RecognitionStarted":
			return nil
		case "Error":
			return fmt.Errorf("speechmatics: start recognition: %w", stt.NewServiceError(m.errorReason()))
		}
	}
}

// ---- wire types ----

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type transcriptionConfig struct {
	Language       string  `json:"language"`
	EnablePartials bool    `json:"enable_partials"`
	OperatingPoint string  `json:"operating_point,omitempty"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
}

type startRecognition struct {
	Message             string              `json:"message"`
	AudioFormat         audioFormat         `json:"audio_format"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type endOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

// serverMessage covers every server message the session reacts to.
type serverMessage struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	SeqNo    int    `json:"seq_no"`
	Metadata struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata"`
	Results []struct {
		Type         string `json:"type"`
		Alternatives []struct {
			Content    string  `json:"content"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (m serverMessage) errorReason() string {
	switch {
	case m.Reason != "" && m.Type != "":
		return m.Type + ": " + m.Reason
	case m.Reason != "":
		return m.Reason
	default:
		return m.Type
	}
}

// transcript extracts the result text. metadata.transcript is preferred;
// otherwise the best alternatives are joined, attaching punctuation to the
// preceding word.
func (m serverMessage) transcript() stt.Transcript {
	t := stt.Transcript{
		IsFinal:   m.Message == "AddTranscript",
		StartTime: secs(m.Metadata.StartTime),
		EndTime:   secs(m.Metadata.EndTime),
	}
	if m.Metadata.Transcript != "" {
		t.Text = strings.TrimSpace(m.Metadata.Transcript)
		return t
	}
	var b strings.Builder
	var conf float64
	n := 0
	for _, r := range m.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if b.Len() > 0 && r.Type != "punctuation" {
			b.WriteByte(' ')
		}
		b.WriteString(alt.Content)
		conf += alt.Confidence
		n++
	}
	t.Text = b.String()
	if n > 0 {
		t.Confidence = conf / float64(n)
	}
	return t
}

func secs(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// ---- session ----

// session is a live realtime session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	events chan stt.Event
	audio  chan []byte

	done       chan struct{}
	finishing  chan struct{}
	eot        chan struct{}
	readDone   chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
	eotOnce    sync.Once
	wg         sync.WaitGroup

	mu     sync.Mutex
	seqNo  int
	ending bool
}

// SendAudio queues a pcm_f32le chunk for delivery.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.finishing:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Events returns the ordered event stream.
func (s *session) Events() <-chan stt.Event { return s.events }

// Finish flushes queued audio, sends EndOfStream and waits for
// EndOfTranscript. The connection is always closed before returning.
func (s *session) Finish(ctx context.Context) error {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.ending = true
		s.mu.Unlock()
		close(s.finishing)
	})
	select {
	case <-s.eot:
		return s.Close()
	case <-s.readDone:
		return s.Close()
	case <-ctx.Done():
		_ = s.Close()
		return fmt.Errorf("speechmatics: await EndOfTranscript: %w", ctx.Err())
	}
}

// Close terminates the session immediately.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.ending = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// writeLoop sends queued audio as binary messages. When finishing it drains
// the queue and sends EndOfStream with the number of chunks written.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	send := func(chunk []byte) bool {
		if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return false
		}
		s.mu.Lock()
		s.seqNo++
		s.mu.Unlock()
		return true
	}
	for {
		select {
		case chunk := <-s.audio:
			if !send(chunk) {
				return
			}
		case <-s.finishing:
		drain:
			for {
				select {
				case chunk := <-s.audio:
					if !send(chunk) {
						return
					}
				default:
					break drain
				}
			}
			s.mu.Lock()
			last := s.seqNo
			s.mu.Unlock()
			msg, _ := json.Marshal(endOfStream{Message: "EndOfStream", LastSeqNo: last})
			_ = s.conn.Write(ctx, websocket.MessageText, msg)
			return
		case <-s.done:
			return
		}
	}
}

// readLoop receives server messages and converts them into events.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.readDone)
	defer func() {
		select {
		case s.events <- stt.Event{Kind: stt.EventClosed}:
		case <-time.After(time.Second):
		}
	}()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			ending := s.ending
			s.mu.Unlock()
			if !ending && !errors.Is(err, context.Canceled) {
				s.emit(stt.Event{Kind: stt.EventError, Err: stt.NewConnectionError(err)})
			}
			return
		}

		var m serverMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Message {
		case "AddPartialTranscript":
			s.emit(stt.Event{Kind: stt.EventPartial, Transcript: m.transcript()})
		case "AddTranscript":
			s.emit(stt.Event{Kind: stt.EventFinal, Transcript: m.transcript()})
		case "EndOfTranscript":
			s.mu.Lock()
			s.ending = true
			s.mu.Unlock()
			s.emit(stt.Event{Kind: stt.EventEndOfTranscript})
			s.eotOnce.Do(func() { close(s.eot) })
		case "Warning":
			s.emit(stt.Event{Kind: stt.EventWarning, Message: m.errorReason()})
		case "Error":
			s.mu.Lock()
			s.ending = true
			s.mu.Unlock()
			s.emit(stt.Event{Kind: stt.EventError, Err: stt.NewServiceError(m.errorReason())})
		}
	}
}

func (s *session) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

var _ stt.Provider = (*Provider)(nil)
