// Package app wires the tabcaption subsystems into a running application.
//
// The App owns the full lifecycle: New builds the in-process browser
// runtime with its controller, audio host and overlay factories, Run serves
// the control API until the context ends, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithCredentialStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tabcaption/internal/audiohost"
	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/config"
	"github.com/MrWong99/tabcaption/internal/controller"
	"github.com/MrWong99/tabcaption/internal/credstore"
	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/internal/overlay"
	"github.com/MrWong99/tabcaption/internal/resilience"
	"github.com/MrWong99/tabcaption/internal/tui"
	"github.com/MrWong99/tabcaption/pkg/audio"
)

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 5 * time.Second

// App owns every subsystem of one tabcaption process.
type App struct {
	cfg     *config.Config
	tr      config.Transcriber
	metrics *observe.Metrics

	rt     *browser.Local
	ctrl   *controller.Controller
	creds  *credentials
	store  *credstore.Store
	guard  *resilience.TokenGuard
	server *http.Server

	mu         sync.Mutex
	overlays   map[int]*overlay.Overlay
	overlayCfg overlay.Config
	host       *audiohost.Host

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCredentialStore injects a credential store instead of opening the
// configured database. The caller keeps ownership.
func WithCredentialStore(s *credstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App for cfg. tr is the transcription backend built from
// the provider registry.
func New(ctx context.Context, cfg *config.Config, tr config.Transcriber, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		tr:       tr,
		overlays: make(map[int]*overlay.Overlay),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Credentials ───────────────────────────────────────────────────
	if err := a.initCredentials(ctx); err != nil {
		return nil, fmt.Errorf("app: init credentials: %w", err)
	}

	// ── 2. Token exchange guard ──────────────────────────────────────────
	b := cfg.Transcription.Breaker
	a.guard = resilience.NewTokenGuard(tr.Tokens, resilience.CircuitBreakerConfig{
		Name:         cfg.Transcription.Name + "-token",
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("token exchange breaker changed state", "breaker", name, "from", from, "to", to)
		},
	})

	// ── 3. Browser runtime ───────────────────────────────────────────────
	a.overlayCfg = overlayConfig(cfg)
	a.initRuntime()

	// ── 4. Control API ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCredentials(ctx context.Context) error {
	if a.store == nil {
		store, err := credstore.Open(a.cfg.Credentials.DBPath, credstore.WithEnvVar(a.cfg.Credentials.EnvVar))
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	a.creds = &credentials{store: a.store, static: a.cfg.Transcription.APIKey}

	src, err := a.creds.Source(ctx)
	if err != nil {
		return err
	}
	slog.Info("credential source", "source", src)
	return nil
}

// initRuntime builds the local runtime, its tabs and the three context
// factories.
func (a *App) initRuntime() {
	a.rt = browser.NewLocal()
	a.ctrl = controller.New(a.rt, controller.WithMetrics(a.metrics))
	a.rt.SetController(a.ctrl)

	hostCfg := hostConfig(a.cfg.Capture)
	a.rt.SetHostFactory(func(port browser.Port, capturer audio.Capturer) browser.HostDocument {
		h := audiohost.New(port, capturer, audiohost.WithConfig(hostCfg), audiohost.WithMetrics(a.metrics))
		a.mu.Lock()
		a.host = h
		a.mu.Unlock()
		return h
	})
	a.rt.SetOverlayFactory(func(tab browser.Tab, port browser.Port) browser.Document {
		a.mu.Lock()
		defer a.mu.Unlock()
		o := overlay.New(tab, port, a.tr.Provider, a.guard, a.creds,
			overlay.WithConfig(a.overlayCfg),
			overlay.WithMetrics(a.metrics),
			overlay.WithProviderName(a.cfg.Transcription.Name),
		)
		a.overlays[tab.ID] = o
		return o
	})

	for _, tc := range a.cfg.Tabs {
		a.rt.AddTab(tabConfig(tc, hostCfg.SampleRate))
	}
	a.closers = append(a.closers, a.rt.Close)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and, when enabled, the terminal UI. It blocks
// until ctx is cancelled or the user quits the TUI.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.cfg.TUI.Enabled {
		g.Go(func() error {
			defer cancel()
			return tui.Run(ctx, a, a.tuiTab())
		})
	}

	slog.Info("app running", "addr", ln.Addr().String(), "tabs", len(a.cfg.Tabs), "tui", a.cfg.TUI.Enabled)
	return g.Wait()
}

func (a *App) tuiTab() int {
	if a.cfg.TUI.TabID != 0 {
		return a.cfg.TUI.TabID
	}
	if len(a.cfg.Tabs) > 0 {
		return a.cfg.Tabs[0].ID
	}
	return 0
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any recording and tears down all subsystems. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if sess := a.ctrl.Session(); sess.Recording() {
			if _, err := a.ctrl.Toggle(ctx, browser.Tab{ID: sess.ActiveTabID}); err != nil {
				slog.Warn("stop recording on shutdown", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reconfigure applies the hot-reloadable part of a config change. Caption
// and recognition settings apply to overlays injected afterwards.
func (a *App) Reconfigure(d config.ConfigDiff, next *config.Config) {
	if d.CaptionChanged || d.RecognitionChanged {
		a.mu.Lock()
		a.overlayCfg = overlayConfig(next)
		a.mu.Unlock()
		slog.Info("overlay settings updated", "language", next.Transcription.Language, "words", next.Caption.Words)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Runtime returns the browser runtime.
func (a *App) Runtime() *browser.Local { return a.rt }

// Controller returns the controller.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Overlay returns the overlay injected in tabID, if any.
func (a *App) Overlay(tabID int) (*overlay.Overlay, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.overlays[tabID]
	return o, ok
}

// ToggleRecording is the toolbar action click for tabID.
func (a *App) ToggleRecording(ctx context.Context, tabID int) error {
	_, err := a.toggle(ctx, tabID)
	return err
}

func (a *App) toggle(ctx context.Context, tabID int) (controller.Result, error) {
	tab, ok := a.rt.Tab(tabID)
	if !ok {
		return controller.Result{}, fmt.Errorf("%w: %d", ErrUnknownTab, tabID)
	}
	return a.ctrl.Toggle(ctx, tab)
}

// ToggleCaptions starts transcription in tabID's overlay, or stops it when
// it is already listening.
func (a *App) ToggleCaptions(ctx context.Context, tabID int) error {
	o, ok := a.Overlay(tabID)
	if !ok {
		return fmt.Errorf("%w: tab %d", ErrNoOverlay, tabID)
	}
	if o.Listening() {
		return o.StopListening(ctx)
	}
	return o.StartListening(ctx)
}

// StopRecording presses tabID's overlay stop button.
func (a *App) StopRecording(ctx context.Context, tabID int) error {
	o, ok := a.Overlay(tabID)
	if !ok {
		return fmt.Errorf("%w: tab %d", ErrNoOverlay, tabID)
	}
	return o.StopRecording(ctx)
}

// Snapshot implements tui.Backend.
func (a *App) Snapshot(tabID int) tui.Snapshot {
	tab, _ := a.rt.Tab(tabID)
	sess := a.ctrl.Session()
	snap := tui.Snapshot{Tab: tab, Recording: sess.Recording() && sess.ActiveTabID == tabID}
	if o, ok := a.Overlay(tabID); ok {
		snap.Overlay = o.Snapshot()
		snap.HasOverlay = true
	}
	return snap
}

var _ tui.Backend = (*App)(nil)
