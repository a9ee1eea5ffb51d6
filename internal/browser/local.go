package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tabcaption/pkg/audio"
	"github.com/MrWong99/tabcaption/pkg/protocol"
	"github.com/google/uuid"
)

const (
	defaultReplyTimeout = 2 * time.Second
	defaultMailboxSize  = 1024
)

// ErrHostExists is returned by CreateHostContext when a host is already
// open. Only one audio host may exist at a time.
var ErrHostExists = errors.New("browser: host context already exists")

// HostFactory builds the audio host document. port reaches the controller;
// capturer opens streams minted by GetMediaStreamID.
type HostFactory func(port Port, capturer audio.Capturer) HostDocument

// OverlayFactory builds the overlay document injected into tab.
type OverlayFactory func(tab Tab, port Port) Document

// TabConfig registers a tab with the local runtime.
type TabConfig struct {
	Tab Tab

	// Open returns a fresh audio stream for the tab. Nil means the tab
	// produces no capturable audio.
	Open func() (audio.Stream, error)

	// DenyCapture makes GetMediaStreamID fail with ErrPermissionDenied.
	DenyCapture bool

	// DenyScripting makes InjectOverlay fail with ErrPermissionDenied.
	DenyScripting bool
}

// Option configures a [Local] runtime.
type Option func(*Local)

// WithReplyTimeout bounds how long request/reply sends wait.
func WithReplyTimeout(d time.Duration) Option {
	return func(l *Local) { l.replyTimeout = d }
}

// WithMailboxSize sets each context's queue length.
func WithMailboxSize(n int) Option {
	return func(l *Local) { l.mailboxSize = n }
}

// Local is an in-process [Runtime]. It also implements [audio.Capturer] for
// the streams it mints.
type Local struct {
	replyTimeout time.Duration
	mailboxSize  int

	mu          sync.Mutex
	controller  *mailbox
	hostFactory HostFactory
	overlayFac  OverlayFactory
	host        HostDocument
	hostBox     *mailbox
	overlays    map[int]*overlayEntry
	tabs        map[int]TabConfig
	streams     map[string]int
	capturing   map[int]bool
	icon        Icon
	iconChanges int
}

var (
	_ Runtime        = (*Local)(nil)
	_ audio.Capturer = (*Local)(nil)
)

type overlayEntry struct {
	doc Document
	box *mailbox
}

// NewLocal creates a runtime with no contexts. Call SetController,
// SetHostFactory and SetOverlayFactory before use.
func NewLocal(opts ...Option) *Local {
	l := &Local{
		replyTimeout: defaultReplyTimeout,
		mailboxSize:  defaultMailboxSize,
		overlays:     make(map[int]*overlayEntry),
		tabs:         make(map[int]TabConfig),
		streams:      make(map[string]int),
		capturing:    make(map[int]bool),
		icon:         IconIdle,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetController installs the controller's handler.
func (l *Local) SetController(h Handler) {
	l.mu.Lock()
	old := l.controller
	l.controller = newMailbox("controller", h, l.mailboxSize)
	l.mu.Unlock()
	if old != nil {
		old.close()
	}
}

// SetHostFactory sets the builder used by CreateHostContext.
func (l *Local) SetHostFactory(f HostFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostFactory = f
}

// SetOverlayFactory sets the builder used by InjectOverlay.
func (l *Local) SetOverlayFactory(f OverlayFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overlayFac = f
}

// AddTab registers or replaces a tab.
func (l *Local) AddTab(cfg TabConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tabs[cfg.Tab.ID] = cfg
}

// Tab returns a registered tab.
func (l *Local) Tab(id int) (Tab, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.tabs[id]
	return cfg.Tab, ok
}

// Tabs returns every registered tab.
func (l *Local) Tabs() []Tab {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Tab, 0, len(l.tabs))
	for _, cfg := range l.tabs {
		out = append(out, cfg.Tab)
	}
	return out
}

// Icon returns the current action icon and how many times it was set.
func (l *Local) Icon() (Icon, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.icon, l.iconChanges
}

// HasOverlay reports whether an overlay is injected in tabID.
func (l *Local) HasOverlay(tabID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.overlays[tabID]
	return ok
}

// ── Runtime ──────────────────────────────────────────────────────────────────

// HostContext implements [Runtime].
func (l *Local) HostContext() (string, bool) {
	l.mu.Lock()
	host := l.host
	l.mu.Unlock()
	if host == nil {
		return "", false
	}
	return host.URL(), true
}

// CreateHostContext implements [Runtime].
func (l *Local) CreateHostContext(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.host != nil {
		return ErrHostExists
	}
	if l.hostFactory == nil {
		return errors.New("browser: no host factory configured")
	}
	port := &localPort{rt: l, from: Sender{Kind: KindHost}}
	l.host = l.hostFactory(port, l)
	l.hostBox = newMailbox("host", l.host, l.mailboxSize)
	slog.Debug("browser: host context created")
	return nil
}

// CloseHostContext implements [Runtime].
func (l *Local) CloseHostContext(_ context.Context) error {
	l.mu.Lock()
	host, box := l.host, l.hostBox
	l.host, l.hostBox = nil, nil
	l.mu.Unlock()
	if host == nil {
		return nil
	}
	box.close()
	if err := host.Close(); err != nil {
		return fmt.Errorf("browser: close host: %w", err)
	}
	return nil
}

// GetMediaStreamID implements [Runtime].
func (l *Local) GetMediaStreamID(_ context.Context, tabID int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.tabs[tabID]
	if !ok {
		return "", fmt.Errorf("browser: no tab with id %d", tabID)
	}
	if cfg.DenyCapture {
		return "", fmt.Errorf("browser: capture tab %d: %w", tabID, protocol.ErrPermissionDenied)
	}
	if l.capturing[tabID] {
		return "", fmt.Errorf("browser: tab %d already has an active stream", tabID)
	}
	id := uuid.NewString()
	l.streams[id] = tabID
	return id, nil
}

// InjectOverlay implements [Runtime].
func (l *Local) InjectOverlay(_ context.Context, tabID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.tabs[tabID]
	if !ok {
		return fmt.Errorf("browser: no tab with id %d", tabID)
	}
	if cfg.DenyScripting {
		return fmt.Errorf("browser: inject tab %d: %w", tabID, protocol.ErrPermissionDenied)
	}
	if _, ok := l.overlays[tabID]; ok {
		return nil
	}
	if l.overlayFac == nil {
		return errors.New("browser: no overlay factory configured")
	}
	port := &localPort{rt: l, from: Sender{Kind: KindOverlay, TabID: tabID}}
	doc := l.overlayFac(cfg.Tab, port)
	l.overlays[tabID] = &overlayEntry{doc: doc, box: newMailbox(fmt.Sprintf("overlay[%d]", tabID), doc, l.mailboxSize)}
	slog.Debug("browser: overlay injected", "tab", tabID)
	return nil
}

// SetIcon implements [Runtime].
func (l *Local) SetIcon(_ context.Context, icon Icon) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.icon = icon
	l.iconChanges++
	return nil
}

// SendToHost implements [Runtime].
func (l *Local) SendToHost(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	l.mu.Lock()
	box := l.hostBox
	l.mu.Unlock()
	if box == nil {
		return protocol.Response{}, fmt.Errorf("browser: host: %w", protocol.ErrContextNotReady)
	}
	return box.send(ctx, msg, Sender{Kind: KindController}, l.replyTimeout)
}

// SendToTab implements [Runtime].
func (l *Local) SendToTab(ctx context.Context, tabID int, msg protocol.Message) (protocol.Response, error) {
	box := l.overlayBox(tabID)
	if box == nil {
		return protocol.Response{}, fmt.Errorf("browser: overlay[%d]: %w", tabID, protocol.ErrContextNotReady)
	}
	return box.send(ctx, msg, Sender{Kind: KindController}, l.replyTimeout)
}

// PostToTab implements [Runtime].
func (l *Local) PostToTab(tabID int, msg protocol.Message) error {
	box := l.overlayBox(tabID)
	if box == nil {
		return fmt.Errorf("browser: overlay[%d]: %w", tabID, protocol.ErrContextNotReady)
	}
	return box.post(msg, Sender{Kind: KindController})
}

func (l *Local) overlayBox(tabID int) *mailbox {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.overlays[tabID]; ok {
		return e.box
	}
	return nil
}

// ── Capturer ─────────────────────────────────────────────────────────────────

// Capture implements [audio.Capturer]. Each stream id may be consumed once.
func (l *Local) Capture(_ context.Context, streamID string) (audio.Stream, error) {
	l.mu.Lock()
	tabID, ok := l.streams[streamID]
	delete(l.streams, streamID)
	cfg := l.tabs[tabID]
	if ok && cfg.Open != nil {
		l.capturing[tabID] = true
	}
	l.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("browser: unknown stream id %q: %w", streamID, protocol.ErrStreamAcquisition)
	}
	if cfg.Open == nil {
		return nil, fmt.Errorf("browser: tab %d has no audio: %w", tabID, protocol.ErrStreamAcquisition)
	}
	s, err := cfg.Open()
	if err != nil {
		l.release(tabID)
		return nil, fmt.Errorf("browser: open tab %d: %w: %w", tabID, protocol.ErrStreamAcquisition, err)
	}
	return &trackedStream{Stream: s, release: func() { l.release(tabID) }}, nil
}

func (l *Local) release(tabID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.capturing, tabID)
}

// Capturing reports whether tabID has a live capture stream.
func (l *Local) Capturing(tabID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capturing[tabID]
}

// trackedStream clears the tab's capture indicator on Stop.
type trackedStream struct {
	audio.Stream
	once    sync.Once
	release func()
}

func (s *trackedStream) Stop() error {
	err := s.Stream.Stop()
	s.once.Do(s.release)
	return err
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Close tears down every context.
func (l *Local) Close() error {
	var errs []error
	if err := l.CloseHostContext(context.Background()); err != nil {
		errs = append(errs, err)
	}
	l.mu.Lock()
	overlays := l.overlays
	l.overlays = make(map[int]*overlayEntry)
	ctrl := l.controller
	l.controller = nil
	l.mu.Unlock()

	for id, e := range overlays {
		e.box.close()
		if err := e.doc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: close overlay[%d]: %w", id, err))
		}
	}
	if ctrl != nil {
		ctrl.close()
	}
	return errors.Join(errs...)
}

// ── Port ─────────────────────────────────────────────────────────────────────

type localPort struct {
	rt   *Local
	from Sender
}

func (p *localPort) box() *mailbox {
	p.rt.mu.Lock()
	defer p.rt.mu.Unlock()
	return p.rt.controller
}

func (p *localPort) Send(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	box := p.box()
	if box == nil {
		return protocol.Response{}, fmt.Errorf("browser: controller: %w", protocol.ErrContextNotReady)
	}
	return box.send(ctx, msg, p.from, p.rt.replyTimeout)
}

func (p *localPort) Post(msg protocol.Message) error {
	box := p.box()
	if box == nil {
		return fmt.Errorf("browser: controller: %w", protocol.ErrContextNotReady)
	}
	return box.post(msg, p.from)
}

var (
	_ Runtime        = (*Local)(nil)
	_ audio.Capturer = (*Local)(nil)
	_ Port           = (*localPort)(nil)
)
