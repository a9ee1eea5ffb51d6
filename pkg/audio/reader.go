package audio

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultBlockSize is the number of samples per block delivered by
// [ReaderStream]: 20 ms at 48 kHz.
const DefaultBlockSize = 960

// ReaderStream is a [Stream] that decodes pcm_f32le from an io.Reader. By
// default it paces delivery to real time so downstream loops observe the
// same cadence as a live capture.
type ReaderStream struct {
	sampleRate int
	blockSize  int
	paced      bool
	loop       io.ReadSeeker

	out      chan []float32
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	src      io.Reader
}

// ReaderOption configures a [ReaderStream].
type ReaderOption func(*ReaderStream)

// WithBlockSize sets the samples per delivered block.
func WithBlockSize(n int) ReaderOption {
	return func(s *ReaderStream) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithoutPacing delivers blocks as fast as the consumer reads them.
func WithoutPacing() ReaderOption {
	return func(s *ReaderStream) { s.paced = false }
}

// WithLoop rewinds rs to the start at EOF instead of ending the stream.
func WithLoop(rs io.ReadSeeker) ReaderOption {
	return func(s *ReaderStream) { s.loop = rs }
}

// NewReaderStream starts decoding r. The returned stream owns a goroutine
// that exits on Stop or at end of input.
func NewReaderStream(r io.Reader, sampleRate int, opts ...ReaderOption) *ReaderStream {
	s := &ReaderStream{
		sampleRate: sampleRate,
		blockSize:  DefaultBlockSize,
		paced:      true,
		out:        make(chan []float32, 8),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		src:        r,
	}
	for _, o := range opts {
		o(s)
	}
	go s.run()
	return s
}

// SampleRate implements [Stream].
func (s *ReaderStream) SampleRate() int { return s.sampleRate }

// Blocks implements [Stream].
func (s *ReaderStream) Blocks() <-chan []float32 { return s.out }

// Stop implements [Stream].
func (s *ReaderStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *ReaderStream) run() {
	defer close(s.done)
	defer close(s.out)

	buf := make([]byte, s.blockSize*4)
	var ticker *time.Ticker
	if s.paced && s.sampleRate > 0 {
		interval := time.Duration(float64(s.blockSize) / float64(s.sampleRate) * float64(time.Second))
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		n, err := io.ReadFull(s.src, buf)
		if n >= 4 {
			block := DecodeFloat32LE(buf[:n-n%4])
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-s.stop:
					return
				}
			}
			select {
			case s.out <- block:
			case <-s.stop:
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if s.loop != nil {
				if _, serr := s.loop.Seek(0, io.SeekStart); serr == nil {
					continue
				}
			}
			return
		}
		slog.Warn("audio: reader stream failed", "err", err)
		return
	}
}

// ToneReader is an endless io.Reader of pcm_f32le sine samples. A zero
// amplitude produces digital silence.
type ToneReader struct {
	Freq       float64
	Amplitude  float64
	SampleRate int
	n          int64
	pending    []byte
}

// Read implements io.Reader.
func (t *ToneReader) Read(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if len(t.pending) == 0 {
			v := float32(t.Amplitude * math.Sin(2*math.Pi*t.Freq*float64(t.n)/float64(t.SampleRate)))
			t.n++
			t.pending = EncodeFloat32LE([]float32{v})
		}
		c := copy(p[written:], t.pending)
		t.pending = t.pending[c:]
		written += c
	}
	return written, nil
}
