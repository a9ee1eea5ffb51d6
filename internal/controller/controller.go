// Package controller owns the recording lifecycle and routes messages
// between the audio host and the per-tab overlays.
//
// The controller keeps no state that must survive a restart: every toggle
// begins by rehydrating its [RecordingSession] from the marker the audio
// host exposes in its URL. Toggles are serialized so at most one tab is
// ever recorded.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/pkg/protocol"
)

// DefaultProbeTimeout bounds a liveness ping.
const DefaultProbeTimeout = 500 * time.Millisecond

// Liveness is the outcome of a [Controller.Probe].
type Liveness int

const (
	// LivenessAbsent: no overlay is injected in the tab.
	LivenessAbsent Liveness = iota

	// LivenessAlive: the overlay answered the ping.
	LivenessAlive

	// LivenessUnknown: the overlay accepted the ping but did not answer
	// correctly in time.
	LivenessUnknown
)

func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Result describes the outcome of a toggle.
type Result struct {
	// Recording is the state after the toggle.
	Recording bool

	// Session is the recording session after the toggle.
	Session RecordingSession
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithProbeTimeout bounds liveness pings. Defaults to DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Controller) { c.probeTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the background context.
type Controller struct {
	rt           browser.Runtime
	metrics      *observe.Metrics
	probeTimeout time.Duration
	now          func() time.Time

	// toggleMu serializes lifecycle changes. Routing of relayed traffic
	// never takes it.
	toggleMu sync.Mutex

	mu      sync.Mutex
	session RecordingSession
}

var _ browser.Handler = (*Controller)(nil)

// New creates a controller driving rt.
func New(rt browser.Runtime, opts ...Option) *Controller {
	c := &Controller{
		rt:           rt,
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Session returns a copy of the current recording session.
func (c *Controller) Session() RecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// rehydrate reconciles the session with the host marker and reports whether
// a recording is active.
func (c *Controller) rehydrate() bool {
	url, ok := c.rt.HostContext()
	recording := ok && markerRecording(url)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case recording && !c.session.Recording():
		c.session = newSession(0, c.now())
		slog.Info("controller: rehydrated recording session from host marker", "session", c.session.ID)
	case !recording && c.session.Recording():
		slog.Info("controller: host is idle, resetting session", "session", c.session.ID)
		c.session = RecordingSession{}
	}
	return recording
}

// Toggle starts recording tab when idle and stops the active recording
// otherwise.
//
// A refused capture or scripting permission returns an error wrapping
// protocol.ErrPermissionDenied and leaves the icon unchanged. A stream that
// cannot be obtained returns an error wrapping protocol.ErrStreamAcquisition;
// the prior state is kept.
func (c *Controller) Toggle(ctx context.Context, tab browser.Tab) (res Result, err error) {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "controller.toggle")
	span.SetAttributes(observe.TabAttr(tab.ID))
	start := time.Now()
	defer func() {
		observe.EndSpan(span, err)
		c.metrics.ToggleDuration.Record(ctx, time.Since(start).Seconds())
	}()

	if err := c.ensureHost(ctx); err != nil {
		return Result{Recording: false, Session: c.Session()}, err
	}

	if c.rehydrate() {
		err = c.stopRecording(ctx, tab.ID, true)
	} else {
		err = c.startRecording(ctx, tab)
	}
	sess := c.Session()
	return Result{Recording: sess.Recording(), Session: sess}, err
}

func (c *Controller) ensureHost(ctx context.Context) error {
	if _, ok := c.rt.HostContext(); ok {
		return nil
	}
	err := c.rt.CreateHostContext(ctx)
	if errors.Is(err, browser.ErrHostExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("controller: create host context: %w", err)
	}
	slog.Debug("controller: host context created")
	return nil
}

// startRecording runs the start path. toggleMu must be held.
func (c *Controller) startRecording(ctx context.Context, tab browser.Tab) error {
	streamID, err := c.rt.GetMediaStreamID(ctx, tab.ID)
	if err != nil {
		if errors.Is(err, protocol.ErrPermissionDenied) {
			slog.Warn("controller: tab capture refused", "tab", tab.ID, "err", err)
			return fmt.Errorf("controller: start recording: %w", err)
		}
		return fmt.Errorf("controller: start recording: %w: %w", protocol.ErrStreamAcquisition, err)
	}

	if err := c.ensureOverlay(ctx, tab.ID); err != nil {
		return fmt.Errorf("controller: start recording: %w", err)
	}

	resp, err := c.rt.SendToHost(ctx, protocol.StartRecording(streamID, tab.ID))
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return fmt.Errorf("controller: start recording: %w: %w", protocol.ErrStreamAcquisition, err)
	}

	c.mu.Lock()
	c.session = newSession(tab.ID, c.now())
	id := c.session.ID
	c.mu.Unlock()

	if err := c.rt.SetIcon(ctx, browser.IconRecording); err != nil {
		slog.Warn("controller: set icon", "err", err)
	}
	if err := c.sendLifecycle(ctx, tab.ID, protocol.ToggleOverlay(true)); err != nil {
		slog.Warn("controller: show overlay", "tab", tab.ID, "err", err)
	}
	slog.Info("controller: recording started", "tab", tab.ID, "session", id)
	return nil
}

// stopRecording runs the stop path. toggleMu must be held. fallbackTab is
// hidden when the session does not know the recorded tab.
func (c *Controller) stopRecording(ctx context.Context, fallbackTab int, hide bool) error {
	c.mu.Lock()
	prev := c.session
	c.mu.Unlock()

	var stopErr error
	if _, ok := c.rt.HostContext(); ok {
		resp, err := c.rt.SendToHost(ctx, protocol.StopRecording())
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			stopErr = fmt.Errorf("controller: stop recording: %w", err)
		}
	}

	c.mu.Lock()
	c.session = RecordingSession{}
	c.mu.Unlock()

	if err := c.rt.SetIcon(ctx, browser.IconIdle); err != nil {
		slog.Warn("controller: set icon", "err", err)
	}
	if hide {
		tabID := prev.ActiveTabID
		if tabID == 0 {
			tabID = fallbackTab
		}
		if err := c.sendLifecycle(ctx, tabID, protocol.ToggleOverlay(false)); err != nil {
			slog.Warn("controller: hide overlay", "tab", tabID, "err", err)
		}
	}
	slog.Info("controller: recording stopped", "session", prev.ID, "tab", prev.ActiveTabID)
	return stopErr
}

// Probe pings the overlay in tabID.
func (c *Controller) Probe(ctx context.Context, tabID int) Liveness {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	resp, err := c.rt.SendToTab(ctx, tabID, protocol.Ping())
	switch {
	case errors.Is(err, protocol.ErrContextNotReady):
		return LivenessAbsent
	case err != nil:
		slog.Debug("controller: probe inconclusive", "tab", tabID, "err", err)
		return LivenessUnknown
	case resp.Status == protocol.StatusOK:
		return LivenessAlive
	default:
		return LivenessUnknown
	}
}

// ensureOverlay injects the overlay unless it answers a ping.
func (c *Controller) ensureOverlay(ctx context.Context, tabID int) error {
	if c.Probe(ctx, tabID) == LivenessAlive {
		return nil
	}
	if err := c.rt.InjectOverlay(ctx, tabID); err != nil {
		return fmt.Errorf("inject overlay: %w", err)
	}
	return nil
}

// sendLifecycle delivers a lifecycle message to a tab's overlay, injecting
// the overlay and retrying once when it is not there yet.
func (c *Controller) sendLifecycle(ctx context.Context, tabID int, msg protocol.Message) error {
	resp, err := c.rt.SendToTab(ctx, tabID, msg)
	if errors.Is(err, protocol.ErrContextNotReady) {
		if ierr := c.rt.InjectOverlay(ctx, tabID); ierr != nil {
			return fmt.Errorf("inject overlay: %w", ierr)
		}
		resp, err = c.rt.SendToTab(ctx, tabID, msg)
	}
	if err != nil {
		return err
	}
	return resp.Err()
}
