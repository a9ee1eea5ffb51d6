// Package audiohost implements the offscreen audio host: the only context
// that holds a tab's capture stream.
//
// A [Host] is idle until it receives start-recording. It then opens the
// stream and runs three goroutines until stopped: a pump feeding the
// analyser and the frame queue, a visualization loop posting audio-level,
// and a raw-sample loop that boosts, classifies and (while transcription is
// enabled for a tab) forwards frames to the controller through a
// [SilenceGate].
//
// The host's URL carries the recording marker the controller reads after a
// restart: "offscreen.html#recording" while recording.
package audiohost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/pkg/audio"
	"github.com/MrWong99/tabcaption/pkg/protocol"
)

const (
	// BaseURL is the host document's address.
	BaseURL = "offscreen.html"

	// RecordingMarker is appended to BaseURL while recording.
	RecordingMarker = "#recording"
)

// Config tunes the host's audio pipeline.
type Config struct {
	// SampleRate is the rate frames are produced at. Streams at other rates
	// are resampled.
	SampleRate int

	// FrameSize is the number of samples per raw frame.
	FrameSize int

	// Tick is the raw-sample loop period.
	Tick time.Duration

	// VisualizationInterval is the level meter period.
	VisualizationInterval time.Duration

	// Gain multiplies raw samples before clamping to [-1, 1].
	Gain float64

	// SilenceThreshold is the absolute amplitude a frame must exceed
	// somewhere to count as audible.
	SilenceThreshold float64

	// SilenceFrames is the run of silent frames forwarded in full.
	SilenceFrames int

	// ForwardEvery is the silent-frame forwarding period after SilenceFrames.
	ForwardEvery int

	// KeepAliveProbability forwards extra silent frames at random.
	KeepAliveProbability float64

	// FFTSize is the analyser window.
	FFTSize int

	// QueueFrames bounds the backlog between pump and raw loop; the oldest
	// samples are dropped past it.
	QueueFrames int

	// StatsInterval is the period of the capture statistics log line. Zero
	// disables it.
	StatsInterval time.Duration
}

// DefaultConfig returns the pipeline settings for 48 kHz tab capture.
func DefaultConfig() Config {
	return Config{
		SampleRate:            48000,
		FrameSize:             960,
		Tick:                  20 * time.Millisecond,
		VisualizationInterval: time.Second / 60,
		Gain:                  3,
		SilenceThreshold:      audio.DefaultSilenceThreshold,
		SilenceFrames:         30,
		ForwardEvery:          5,
		FFTSize:               audio.DefaultFFTSize,
		QueueFrames:           50,
		StatsInterval:         5 * time.Second,
	}
}

// Option configures a [Host].
type Option func(*Host)

// WithConfig replaces the pipeline settings.
func WithConfig(cfg Config) Option {
	return func(h *Host) { h.cfg = cfg }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithRand sets the keep-alive random source.
func WithRand(f func() float64) Option {
	return func(h *Host) { h.rand = f }
}

// Host is the audio host document.
type Host struct {
	port     browser.Port
	capturer audio.Capturer
	cfg      Config
	metrics  *observe.Metrics
	rand     func() float64

	// alive is the cooperative liveness flag checked at the top of each
	// loop tick.
	alive atomic.Bool

	mu    sync.Mutex
	run   *recording
	bound binding
}

// binding is the transcription target.
type binding struct {
	tabID   int
	enabled bool
}

// recording holds the resources of one capture.
type recording struct {
	streamID string
	tabID    int
	stream   audio.Stream
	analyser *audio.Analyser
	queue    *sampleQueue
	cancel   context.CancelFunc
	group    *errgroup.Group
	started  time.Time
}

var _ browser.HostDocument = (*Host)(nil)

// New creates an idle host. port reaches the controller; capturer opens
// stream ids.
func New(port browser.Port, capturer audio.Capturer, opts ...Option) *Host {
	h := &Host{
		port:     port,
		capturer: capturer,
		cfg:      DefaultConfig(),
		rand:     rand.Float64,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// URL returns the host address with the recording marker while recording.
func (h *Host) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run != nil {
		return BaseURL + RecordingMarker
	}
	return BaseURL
}

// Recording reports whether a capture is active and for which tab.
func (h *Host) Recording() (tabID int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run == nil {
		return 0, false
	}
	return h.run.tabID, true
}

// Transcription returns the tab frames are forwarded to and whether
// forwarding is enabled.
func (h *Host) Transcription() (tabID int, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound.tabID, h.bound.enabled
}

// Start opens streamID and starts the loops. A second Start while recording
// returns protocol.ErrDoubleStart and leaves the running capture intact.
func (h *Host) Start(ctx context.Context, streamID string, tabID int) (err error) {
	ctx, span := observe.StartSpan(ctx, "audiohost.start")
	span.SetAttributes(observe.TabAttr(tabID))
	defer func() { observe.EndSpan(span, err) }()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run != nil {
		observe.Logger(ctx).Error("audiohost: start while recording",
			"recording_tab", h.run.tabID, "requested_tab", tabID)
		return fmt.Errorf("audiohost: start: %w", protocol.ErrDoubleStart)
	}

	stream, err := h.capturer.Capture(ctx, streamID)
	if err != nil {
		if !errors.Is(err, protocol.ErrStreamAcquisition) {
			err = fmt.Errorf("%w: %w", protocol.ErrStreamAcquisition, err)
		}
		return fmt.Errorf("audiohost: start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(loopCtx)
	r := &recording{
		streamID: streamID,
		tabID:    tabID,
		stream:   stream,
		analyser: audio.NewAnalyser(h.cfg.FFTSize),
		queue:    newSampleQueue(h.cfg.FrameSize * max(h.cfg.QueueFrames, 1)),
		cancel:   cancel,
		group:    g,
		started:  time.Now(),
	}
	h.run = r
	h.alive.Store(true)

	g.Go(func() error { return h.pump(gctx, r) })
	g.Go(func() error { return h.visualize(gctx, r) })
	g.Go(func() error { return h.process(gctx, r) })

	h.metrics.ActiveRecordings.Add(ctx, 1)
	slog.Info("audiohost: recording started",
		"tab", tabID, "sample_rate", stream.SampleRate())
	return nil
}

// Stop tears the capture down: loops are cancelled and awaited, the stream
// is stopped, the marker and transcription binding are cleared. Stop while
// idle is a no-op.
func (h *Host) Stop() error {
	h.mu.Lock()
	r := h.run
	h.run = nil
	h.mu.Unlock()
	if r == nil {
		return nil
	}

	h.alive.Store(false)
	r.cancel()
	stopErr := r.stream.Stop()
	if err := r.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("audiohost: loop ended with error", "err", err)
	}
	r.analyser.Reset()

	h.mu.Lock()
	h.bound = binding{}
	h.mu.Unlock()

	h.metrics.ActiveRecordings.Add(context.Background(), -1)
	slog.Info("audiohost: recording stopped",
		"tab", r.tabID, "duration", time.Since(r.started).Round(time.Millisecond))
	if stopErr != nil {
		return fmt.Errorf("audiohost: stop stream: %w", stopErr)
	}
	return nil
}

// Close stops any capture. It implements [browser.Document].
func (h *Host) Close() error { return h.Stop() }

// HandleMessage implements [browser.Handler].
func (h *Host) HandleMessage(ctx context.Context, msg protocol.Message, _ browser.Sender) protocol.Response {
	switch msg.Type {
	case protocol.TypeStartRecording:
		if err := h.Start(ctx, msg.StreamID, msg.TabID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK()

	case protocol.TypeStopRecording:
		if err := h.Stop(); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK()

	case protocol.TypeGetAudioStream:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.run == nil {
			return protocol.FailMessage(protocol.MsgNoRecording)
		}
		h.bound.tabID = msg.TabID
		slog.Debug("audiohost: transcription target bound", "tab", msg.TabID)
		return protocol.OK()

	case protocol.TypeEnableTranscription:
		h.mu.Lock()
		defer h.mu.Unlock()
		if msg.Enable && h.run == nil {
			return protocol.FailMessage(protocol.MsgNoRecording)
		}
		h.bound.enabled = msg.Enable
		if msg.TabID != 0 {
			h.bound.tabID = msg.TabID
		}
		slog.Info("audiohost: transcription forwarding",
			"enabled", msg.Enable, "tab", h.bound.tabID)
		return protocol.OK()

	default:
		return protocol.Fail(fmt.Errorf("unrecognized message %q", msg.Type))
	}
}

// ── loops ────────────────────────────────────────────────────────────────────

// pump moves stream blocks into the analyser and the frame queue until the
// stream closes.
func (h *Host) pump(ctx context.Context, r *recording) error {
	conv := &audio.RateConverter{Target: h.cfg.SampleRate}
	rate := r.stream.SampleRate()
	blocks := r.stream.Blocks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-blocks:
			if !ok {
				if h.alive.Load() {
					slog.Warn("audiohost: capture stream ended", "tab", r.tabID)
				}
				return nil
			}
			block = conv.Convert(block, rate)
			r.analyser.Write(block)
			if dropped := r.queue.push(block); dropped > 0 {
				slog.Debug("audiohost: frame queue overflow", "dropped_samples", dropped)
			}
		}
	}
}

// visualize posts the analyser level on every tick.
func (h *Host) visualize(ctx context.Context, r *recording) error {
	ticker := time.NewTicker(h.cfg.VisualizationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !h.alive.Load() {
			return nil
		}
		if err := h.port.Post(protocol.AudioLevel(r.analyser.Level())); err != nil {
			h.metrics.RecordRelayFailure(ctx, string(protocol.TypeAudioLevel), browser.FailureReason(err))
		}
	}
}

// process drains whole frames from the queue on every tick, classifies them
// and forwards them while transcription is enabled.
func (h *Host) process(ctx context.Context, r *recording) error {
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()

	gate := &SilenceGate{
		Threshold: h.cfg.SilenceFrames,
		Every:     h.cfg.ForwardEvery,
		KeepAlive: h.cfg.KeepAliveProbability,
		Rand:      h.rand,
	}
	stats := newCaptureStats(h.cfg.SilenceThreshold)
	lastStats := time.Now()
	buf := make([]float32, h.cfg.FrameSize)
	var produced time.Duration
	frameDur := time.Duration(h.cfg.FrameSize) * time.Second / time.Duration(h.cfg.SampleRate)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !h.alive.Load() {
			return nil
		}

		for r.queue.pop(buf) {
			frame := audio.NewFrame(buf, h.cfg.SampleRate, h.cfg.Gain, h.cfg.SilenceThreshold, produced)
			produced += frameDur
			h.metrics.FramesProcessed.Add(ctx, 1)
			stats.add(buf)
			h.forward(ctx, gate, frame)
		}

		if h.cfg.StatsInterval > 0 && time.Since(lastStats) >= h.cfg.StatsInterval {
			stats.log(r.tabID)
			stats.reset()
			lastStats = time.Now()
		}
	}
}

func (h *Host) forward(ctx context.Context, gate *SilenceGate, frame audio.Frame) {
	h.mu.Lock()
	b := h.bound
	h.mu.Unlock()
	if !b.enabled || b.tabID == 0 {
		return
	}
	if !gate.Allow(frame.HasAudio) {
		h.metrics.FramesSuppressed.Add(ctx, 1)
		return
	}
	if err := h.port.Post(protocol.ForwardAudioData(b.tabID, frame.Samples)); err != nil {
		h.metrics.RecordRelayFailure(ctx, string(protocol.TypeForwardAudioData), browser.FailureReason(err))
		return
	}
	if err := h.port.Post(protocol.ForwardAudioLevel(b.tabID, frame.Level)); err != nil {
		h.metrics.RecordRelayFailure(ctx, string(protocol.TypeForwardAudioLevel), browser.FailureReason(err))
	}
	h.metrics.FramesForwarded.Add(ctx, 1)
}
