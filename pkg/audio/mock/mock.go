// Package mock provides in-memory mock implementations of [audio.Capturer]
// and [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// tests can assert on call counts and arguments, and expose fields the test
// sets to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(48000)
//	capturer := &mock.Capturer{Stream: stream}
//	s, err := capturer.Capture(ctx, "stream-1")
//	stream.Push(make([]float32, 960))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tabcaption/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by [Stream.Push].
type Stream struct {
	mu       sync.Mutex
	rate     int
	ch       chan []float32
	stopped  bool
	stopOnce sync.Once

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewStream returns an open mock stream with a generous buffer.
func NewStream(sampleRate int) *Stream {
	return &Stream{rate: sampleRate, ch: make(chan []float32, 256)}
}

// SampleRate implements [audio.Stream].
func (s *Stream) SampleRate() int { return s.rate }

// Blocks implements [audio.Stream].
func (s *Stream) Blocks() <-chan []float32 { return s.ch }

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.stopped = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.ch) })
	return nil
}

// Push delivers a block unless the stream is stopped. It reports whether the
// block was accepted.
func (s *Stream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.ch <- block:
		return true
	default:
		return false
	}
}

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ─── Capturer ─────────────────────────────────────────────────────────────────

// Capturer is a mock [audio.Capturer].
type Capturer struct {
	mu sync.Mutex

	// Stream is returned by Capture when Err is nil. When nil, a fresh
	// 48 kHz stream is created per call.
	Stream audio.Stream

	// Err is returned by Capture.
	Err error

	// CaptureCalls records the stream ids passed to Capture.
	CaptureCalls []string

	// Streams records every stream handed out.
	Streams []audio.Stream
}

// Capture implements [audio.Capturer].
func (c *Capturer) Capture(_ context.Context, streamID string) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CaptureCalls = append(c.CaptureCalls, streamID)
	if c.Err != nil {
		return nil, c.Err
	}
	s := c.Stream
	if s == nil {
		s = NewStream(48000)
	}
	c.Streams = append(c.Streams, s)
	return s, nil
}

var (
	_ audio.Stream   = (*Stream)(nil)
	_ audio.Capturer = (*Capturer)(nil)
)
