package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/tabcaption/internal/controller"
	"github.com/MrWong99/tabcaption/internal/health"
	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/internal/overlay"
	"github.com/MrWong99/tabcaption/internal/resilience"
	"github.com/MrWong99/tabcaption/pkg/protocol"
	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

var (
	// ErrUnknownTab is returned for tab ids the runtime does not know.
	ErrUnknownTab = errors.New("app: unknown tab")

	// ErrNoOverlay is returned when captions are requested for a tab whose
	// overlay was never injected.
	ErrNoOverlay = errors.New("app: overlay not injected")
)

// maxCredentialBody bounds PUT /credential bodies.
const maxCredentialBody = 4 << 10

// Handler returns the control API wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /tabs", a.handleTabs)
	mux.HandleFunc("POST /tabs/{tabID}/toggle", a.handleToggle)
	mux.HandleFunc("POST /tabs/{tabID}/captions/start", a.handleCaptions(true))
	mux.HandleFunc("POST /tabs/{tabID}/captions/stop", a.handleCaptions(false))
	mux.HandleFunc("GET /tabs/{tabID}/overlay", a.handleOverlay)
	mux.HandleFunc("POST /tabs/{tabID}/overlay/stop", a.handleOverlayStop)
	mux.HandleFunc("GET /credential", a.handleGetCredential)
	mux.HandleFunc("PUT /credential", a.handlePutCredential)
	mux.HandleFunc("DELETE /credential", a.handleDeleteCredential)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health().Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) health() *health.Handler {
	return health.New([]health.Checker{
		{Name: "credential_store", Check: a.store.Ping},
		{Name: "credential", Advisory: true, Check: func(ctx context.Context) error {
			_, err := a.creds.APIKey(ctx)
			return err
		}},
		{Name: "token_exchange", Advisory: true, Check: func(context.Context) error {
			if a.guard.State() == resilience.StateOpen {
				return fmt.Errorf("circuit open, retry in %s", a.guard.RetryAfter().Round(time.Second))
			}
			return nil
		}},
	}, health.WithReporter(a.report))
}

func (a *App) report() map[string]any {
	sess := a.ctrl.Session()
	detail := map[string]any{"recording": sess.Recording()}
	if sess.Recording() {
		detail["session_id"] = sess.ID
		detail["active_tab"] = sess.ActiveTabID
	}
	a.mu.Lock()
	detail["overlays"] = len(a.overlays)
	h := a.host
	a.mu.Unlock()
	if h != nil {
		if tabID, on := h.Transcription(); on {
			detail["transcribing_tab"] = tabID
		}
	}
	return detail
}

// ── Tabs ─────────────────────────────────────────────────────────────────────

type tabView struct {
	ID         int    `json:"id"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Capturing  bool   `json:"capturing"`
	HasOverlay bool   `json:"has_overlay"`
}

func (a *App) handleTabs(w http.ResponseWriter, _ *http.Request) {
	tabs := a.rt.Tabs()
	out := make([]tabView, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, tabView{
			ID:         t.ID,
			Title:      t.Title,
			URL:        t.URL,
			Capturing:  a.rt.Capturing(t.ID),
			HasOverlay: a.rt.HasOverlay(t.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionView struct {
	ID                   string    `json:"id,omitempty"`
	State                string    `json:"state"`
	ActiveTabID          int       `json:"active_tab_id,omitempty"`
	TranscriptionEnabled bool      `json:"transcription_enabled"`
	StartedAt            time.Time `json:"started_at,omitzero"`
}

func newSessionView(s controller.RecordingSession) sessionView {
	return sessionView{
		ID:                   s.ID,
		State:                s.State.String(),
		ActiveTabID:          s.ActiveTabID,
		TranscriptionEnabled: s.TranscriptionEnabled,
		StartedAt:            s.StartedAt,
	}
}

type toggleView struct {
	Recording bool        `json:"recording"`
	Session   sessionView `json:"session"`
}

func (a *App) handleToggle(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	res, err := a.toggle(r.Context(), tabID)
	if err != nil {
		observe.Logger(r.Context()).Warn("toggle failed", "tab", tabID, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleView{Recording: res.Recording, Session: newSessionView(res.Session)})
}

// ── Overlay ──────────────────────────────────────────────────────────────────

type overlayView struct {
	TabID            int       `json:"tab_id"`
	Liveness         string    `json:"liveness"`
	Shown            bool      `json:"shown"`
	Status           string    `json:"status"`
	Listening        bool      `json:"listening"`
	Caption          string    `json:"caption"`
	Partial          string    `json:"partial,omitempty"`
	Level            float64   `json:"level"`
	Error            string    `json:"error,omitempty"`
	CredentialPrompt bool      `json:"credential_prompt,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
}

func newOverlayView(s overlay.State, live controller.Liveness) overlayView {
	return overlayView{
		TabID:            s.TabID,
		Liveness:         live.String(),
		Shown:            s.Shown,
		Status:           s.Status.String(),
		Listening:        s.Listening,
		Caption:          s.Caption,
		Partial:          s.Partial,
		Level:            s.Level,
		Error:            s.Error,
		CredentialPrompt: s.CredentialPrompt,
		SessionID:        s.SessionID,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (a *App) handleOverlay(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	if _, known := a.rt.Tab(tabID); !known {
		writeError(w, fmt.Errorf("%w: %d", ErrUnknownTab, tabID))
		return
	}
	live := a.ctrl.Probe(r.Context(), tabID)
	o, injected := a.Overlay(tabID)
	if !injected {
		writeJSON(w, http.StatusOK, overlayView{TabID: tabID, Liveness: live.String(), Status: "hidden"})
		return
	}
	writeJSON(w, http.StatusOK, newOverlayView(o.Snapshot(), live))
}

func (a *App) handleOverlayStop(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	if err := a.StopRecording(r.Context(), tabID); err != nil {
		observe.Logger(r.Context()).Warn("overlay stop failed", "tab", tabID, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleView{Recording: false, Session: newSessionView(a.ctrl.Session())})
}

func (a *App) handleCaptions(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tabID, ok := tabParam(w, r)
		if !ok {
			return
		}
		o, injected := a.Overlay(tabID)
		if !injected {
			writeError(w, fmt.Errorf("%w: tab %d", ErrNoOverlay, tabID))
			return
		}
		var err error
		if start {
			err = o.StartListening(r.Context())
		} else {
			err = o.StopListening(r.Context())
		}
		if err != nil {
			observe.Logger(r.Context()).Warn("captions request failed", "tab", tabID, "start", start, "err", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newOverlayView(o.Snapshot(), controller.LivenessAlive))
	}
}

// ── Credential ───────────────────────────────────────────────────────────────

type credentialView struct {
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

func (a *App) credentialView(ctx context.Context) (credentialView, error) {
	src, err := a.creds.Source(ctx)
	if err != nil {
		return credentialView{}, err
	}
	updated, err := a.store.UpdatedAt(ctx)
	if err != nil {
		return credentialView{}, err
	}
	return credentialView{Source: string(src), UpdatedAt: updated}, nil
}

func (a *App) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	v, err := a.credentialView(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCredentialBody)).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeStatus(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if err := a.store.Set(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("API key stored")
	a.clearCredentialPrompts()
	a.handleGetCredential(w, r)
}

func (a *App) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Delete(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("stored API key deleted")
	a.handleGetCredential(w, r)
}

// clearCredentialPrompts dismisses credential errors once a new key is
// saved, so the next start is not shown a stale failure.
func (a *App) clearCredentialPrompts() {
	a.mu.Lock()
	overlays := make([]*overlay.Overlay, 0, len(a.overlays))
	for _, o := range a.overlays {
		overlays = append(overlays, o)
	}
	a.mu.Unlock()
	for _, o := range overlays {
		if o.Snapshot().CredentialPrompt {
			o.ClearError()
		}
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func tabParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("tabID"))
	if err != nil || id <= 0 {
		writeStatus(w, http.StatusBadRequest, fmt.Sprintf("invalid tab id %q", r.PathValue("tabID")))
		return 0, false
	}
	return id, true
}

type errorView struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ce *stt.CredentialError
	switch {
	case errors.Is(err, ErrUnknownTab):
		return http.StatusNotFound
	case errors.Is(err, ErrNoOverlay), errors.Is(err, overlay.ErrBusy),
		errors.Is(err, protocol.ErrNoRecording), errors.Is(err, protocol.ErrOtherTabRecording):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, stt.ErrNoCredential):
		return http.StatusPreconditionRequired
	case errors.As(err, &ce):
		if ce.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case errors.Is(err, protocol.ErrStreamAcquisition), errors.Is(err, protocol.ErrContextNotReady):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeStatus(w, statusFor(err), err.Error())
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorView{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
