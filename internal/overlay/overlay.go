// Package overlay implements the per-tab overlay context.
//
// An [Overlay] shows or hides the caption widget on toggle-overlay, answers
// ping, records audio-level and audio-data traffic relayed by the
// controller and, while listening, owns one transcription session whose
// partial results are reduced to a caption (see package caption).
//
// Renderers observe the overlay through [Overlay.Subscribe], which delivers
// [State] snapshots.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/caption"
	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/pkg/audio"
	"github.com/MrWong99/tabcaption/pkg/protocol"
	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// Config tunes transcription and caption behaviour.
type Config struct {
	Language       string
	OperatingPoint string
	SampleRate     int

	// Words and Debounce shape the caption. See caption.TranscriptState.
	Words    int
	Debounce time.Duration

	// WarningAfter and ErrorAfter are the stall thresholds.
	WarningAfter time.Duration
	ErrorAfter   time.Duration

	// MonitorInterval is the stall check and debounce flush period.
	MonitorInterval time.Duration

	// PaddingFrames silent frames of PaddingSamples each are sent before
	// ending a session, then PaddingDelay is waited.
	PaddingFrames  int
	PaddingSamples int
	PaddingDelay   time.Duration

	// StopTimeout bounds the wait for the end-of-transcript acknowledgement.
	StopTimeout time.Duration

	// StartTimeout bounds the token exchange plus session start.
	StartTimeout time.Duration
}

// DefaultConfig returns the settings for English 48 kHz captions.
func DefaultConfig() Config {
	return Config{
		Language:        "en",
		OperatingPoint:  "standard",
		SampleRate:      48000,
		Words:           caption.DefaultWords,
		Debounce:        caption.DefaultDebounce,
		WarningAfter:    caption.DefaultWarningAfter,
		ErrorAfter:      caption.DefaultErrorAfter,
		MonitorInterval: caption.DefaultMonitorInterval,
		PaddingFrames:   5,
		PaddingSamples:  4096,
		PaddingDelay:    500 * time.Millisecond,
		StopTimeout:     5 * time.Second,
		StartTimeout:    15 * time.Second,
	}
}

// CredentialSource supplies the long-lived API key. It returns
// stt.ErrNoCredential when none is configured.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// State is a snapshot of the overlay for renderers.
type State struct {
	TabID     int
	Shown     bool
	Status    caption.Status
	Listening bool

	// Caption is the displayed caption; Partial the latest raw hypothesis.
	Caption string
	Partial string

	// Level is the last audio level received, 0-100.
	Level float64

	// Error is the user-facing failure, if any.
	Error string

	// CredentialPrompt asks the user to enter an API key.
	CredentialPrompt bool

	// SessionID identifies the transcription session while listening.
	SessionID string

	UpdatedAt time.Time
}

// Option configures an [Overlay].
type Option func(*Overlay)

// WithConfig replaces the transcription and caption settings.
func WithConfig(cfg Config) Option {
	return func(o *Overlay) { o.cfg = cfg }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Overlay) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Overlay) { o.now = now }
}

// WithProviderName labels provider error metrics.
func WithProviderName(name string) Option {
	return func(o *Overlay) { o.providerName = name }
}

// Overlay is the overlay document for one tab.
type Overlay struct {
	tab          browser.Tab
	port         browser.Port
	provider     stt.Provider
	tokens       stt.TokenSource
	creds        CredentialSource
	cfg          Config
	metrics      *observe.Metrics
	now          func() time.Time
	providerName string
	monitor      caption.Monitor

	mu         sync.Mutex
	shown      bool
	status     caption.Status
	level      float64
	lastUpdate time.Time
	transcript caption.TranscriptState
	errMsg     string
	prompt     bool
	sess       *listenSession
	starting   bool
	subs       map[chan State]struct{}
	closed     bool

	// stopping tracks background StopListening calls started by a hide.
	stopping sync.WaitGroup

	done        chan struct{}
	monitorDone chan struct{}
	closeOnce   sync.Once
}

var _ browser.Document = (*Overlay)(nil)

// New creates a hidden overlay for tab and starts its stall monitor.
func New(tab browser.Tab, port browser.Port, provider stt.Provider, tokens stt.TokenSource, creds CredentialSource, opts ...Option) *Overlay {
	o := &Overlay{
		tab:          tab,
		port:         port,
		provider:     provider,
		tokens:       tokens,
		creds:        creds,
		cfg:          DefaultConfig(),
		now:          time.Now,
		providerName: "speechmatics",
		subs:         make(map[chan State]struct{}),
		done:         make(chan struct{}),
		monitorDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.monitor = caption.Monitor{WarningAfter: o.cfg.WarningAfter, ErrorAfter: o.cfg.ErrorAfter}
	o.transcript = caption.TranscriptState{Words: o.cfg.Words, Debounce: o.cfg.Debounce}
	go o.runMonitor()
	return o
}

// Tab returns the tab the overlay lives in.
func (o *Overlay) Tab() browser.Tab { return o.tab }

// HandleMessage implements [browser.Handler].
func (o *Overlay) HandleMessage(_ context.Context, msg protocol.Message, from browser.Sender) protocol.Response {
	switch msg.Type {
	case protocol.TypePing:
		return protocol.Response{Success: true, Status: protocol.StatusOK}

	case protocol.TypeToggleOverlay:
		o.setShown(msg.Show)
		return protocol.OK()

	case protocol.TypeAudioLevel:
		o.mu.Lock()
		o.level = msg.Level
		o.lastUpdate = o.now()
		changed := o.refreshStatusLocked()
		o.mu.Unlock()
		if changed {
			o.publish()
		}
		return protocol.OK()

	case protocol.TypeAudioData:
		o.receiveAudio(msg.Samples)
		return protocol.OK()

	default:
		slog.Debug("overlay: ignoring message", "tab", o.tab.ID, "type", msg.Type, "from", from)
		return protocol.Fail(fmt.Errorf("unrecognized message %q", msg.Type))
	}
}

func (o *Overlay) setShown(show bool) {
	o.mu.Lock()
	if o.shown == show {
		o.mu.Unlock()
		return
	}
	o.shown = show
	if show {
		o.lastUpdate = o.now()
		o.errMsg = ""
	}
	o.refreshStatusLocked()
	listening := o.sess != nil
	if !show && listening {
		o.stopping.Add(1)
	}
	o.mu.Unlock()
	o.publish()

	slog.Info("overlay: visibility changed", "tab", o.tab.ID, "shown", show)
	if !show && listening {
		// Hiding must not wait for the session to drain: the caller is the
		// controller blocked on this reply.
		go func() {
			defer o.stopping.Done()
			ctx, cancel := context.WithTimeout(context.Background(), o.stopBudget())
			defer cancel()
			if err := o.StopListening(ctx); err != nil {
				slog.Warn("overlay: stop listening on hide", "tab", o.tab.ID, "err", err)
			}
		}()
	}
}

// receiveAudio feeds a relayed frame to the session.
func (o *Overlay) receiveAudio(samples []float32) {
	o.mu.Lock()
	o.lastUpdate = o.now()
	o.level = audio.LevelFromRMS(audio.RMS(samples))
	changed := o.refreshStatusLocked()
	ls := o.sess
	o.mu.Unlock()
	if changed {
		o.publish()
	}
	if ls == nil || len(samples) == 0 {
		return
	}
	if err := ls.handle.SendAudio(audio.EncodeFloat32LE(samples)); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		slog.Debug("overlay: send audio", "tab", o.tab.ID, "err", err)
	}
}

// Snapshot returns the current state.
func (o *Overlay) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Overlay) snapshotLocked() State {
	st := State{
		TabID:            o.tab.ID,
		Shown:            o.shown,
		Status:           o.status,
		Listening:        o.sess != nil,
		Caption:          o.transcript.DisplayedCaption(),
		Partial:          o.transcript.RawPartialText(),
		Level:            o.level,
		Error:            o.errMsg,
		CredentialPrompt: o.prompt,
		UpdatedAt:        o.now(),
	}
	if o.sess != nil {
		st.SessionID = o.sess.id
	}
	return st
}

// Subscribe returns a channel receiving the latest State after every
// change, starting with the current one. Slow receivers only see the most
// recent snapshot. cancel releases the subscription.
func (o *Overlay) Subscribe() (updates <-chan State, cancel func()) {
	ch := make(chan State, 1)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	o.subs[ch] = struct{}{}
	ch <- o.snapshotLocked()
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if _, ok := o.subs[ch]; ok {
				delete(o.subs, ch)
				close(ch)
			}
		})
	}
}

// publish pushes the current snapshot to every subscriber, replacing any
// unread one.
func (o *Overlay) publish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	st := o.snapshotLocked()
	for ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// refreshStatusLocked recomputes the status and reports whether it changed.
func (o *Overlay) refreshStatusLocked() bool {
	next := o.monitor.Evaluate(o.shown, o.lastUpdate, o.now())
	if o.shown && o.errMsg != "" {
		next = caption.StatusError
	}
	if next == o.status {
		return false
	}
	if next == caption.StatusWarning || next == caption.StatusError {
		slog.Warn("overlay: captions stalled", "tab", o.tab.ID, "status", next.String(),
			"idle", o.now().Sub(o.lastUpdate).Round(time.Millisecond))
	}
	o.status = next
	return true
}

func (o *Overlay) runMonitor() {
	defer close(o.monitorDone)
	interval := o.cfg.MonitorInterval
	if interval <= 0 {
		interval = caption.DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

// tick re-evaluates the status and flushes a debounced caption.
func (o *Overlay) tick() {
	o.mu.Lock()
	changed := o.refreshStatusLocked()
	if o.transcript.Flush(o.now()) {
		o.metrics.CaptionCommits.Add(context.Background(), 1)
		changed = true
	}
	o.mu.Unlock()
	if changed {
		o.publish()
	}
}

// Close stops listening, the monitor and every subscription.
func (o *Overlay) Close() error {
	var err error
	o.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.stopBudget())
		defer cancel()
		err = o.StopListening(ctx)
		o.stopping.Wait()

		close(o.done)
		<-o.monitorDone

		o.mu.Lock()
		o.closed = true
		for ch := range o.subs {
			close(ch)
		}
		o.subs = nil
		o.mu.Unlock()
	})
	return err
}

func (o *Overlay) stopBudget() time.Duration {
	return o.cfg.PaddingDelay + o.cfg.StopTimeout + time.Second
}
