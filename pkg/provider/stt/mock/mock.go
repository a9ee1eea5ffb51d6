// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled events and inspect which audio
// chunks were delivered. Use TokenSource to script token exchanges.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(stt.Event{Kind: stt.EventPartial, Transcript: stt.Transcript{Text: "hello"}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu     sync.Mutex
	events chan stt.Event
	closed bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FinishErr, if non-nil, is returned by an acknowledged Finish.
	FinishErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// IgnoreFinish makes Finish behave like an unresponsive service: it
	// blocks until ctx expires and then force-closes.
	IgnoreFinish bool

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// FinishCallCount is the number of times Finish was called.
	FinishCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan stt.Event, 64)}
}

// Emit delivers ev to the consumer. It reports false once the session is
// closed or the buffer is full.
func (s *Session) Emit(ev stt.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Events returns the event stream.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Finish records the call. Unless IgnoreFinish is set it emits
// EventEndOfTranscript, closes the session and returns FinishErr.
func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	s.FinishCallCount++
	ignore := s.IgnoreFinish
	s.mu.Unlock()

	if ignore {
		<-ctx.Done()
		s.shutdown(false)
		return ctx.Err()
	}
	s.shutdown(true)
	return s.FinishErr
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.shutdown(false)
	return s.CloseErr
}

func (s *Session) shutdown(ack bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if ack {
		select {
		case s.events <- stt.Event{Kind: stt.EventEndOfTranscript}:
		default:
		}
	}
	select {
	case s.events <- stt.Event{Kind: stt.EventClosed}:
	default:
	}
	close(s.events)
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Calls returns a snapshot of the recorded SendAudio calls. Thread-safe.
func (s *Session) Calls() []SendAudioCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SendAudioCall(nil), s.SendAudioCalls...)
}

// Closed reports whether Finish or Close has released the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Counts returns the Finish and Close call counts. Thread-safe.
func (s *Session) Counts() (finish, closeCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinishCallCount, s.CloseCallCount
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)

// TokenSource is a mock implementation of stt.TokenSource.
type TokenSource struct {
	mu sync.Mutex

	// Token is returned by Exchange when Err is nil.
	Token stt.Token

	// Err is returned by Exchange.
	Err error

	// ExchangeCalls records the API keys passed to Exchange.
	ExchangeCalls []string
}

// Exchange records the call and returns Token, Err.
func (t *TokenSource) Exchange(_ context.Context, apiKey string) (stt.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ExchangeCalls = append(t.ExchangeCalls, apiKey)
	if t.Err != nil {
		return stt.Token{}, t.Err
	}
	return t.Token, nil
}

// CallCount returns the number of Exchange calls. Thread-safe.
func (t *TokenSource) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ExchangeCalls)
}

var _ stt.TokenSource = (*TokenSource)(nil)
