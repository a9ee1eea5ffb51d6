// Package tui renders one tab's caption overlay in the terminal and maps
// keys to the toolbar action and the overlay's listen and stop buttons.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/caption"
	"github.com/MrWong99/tabcaption/internal/overlay"
)

// DefaultRefresh is the snapshot polling period.
const DefaultRefresh = 100 * time.Millisecond

// Snapshot is what the view needs from the running system.
type Snapshot struct {
	Tab       browser.Tab
	Recording bool

	// Overlay is the zero State until the overlay has been injected.
	Overlay    overlay.State
	HasOverlay bool
}

// Backend is the system the model drives.
type Backend interface {
	Snapshot(tabID int) Snapshot

	// ToggleRecording is the toolbar action click for the tab.
	ToggleRecording(ctx context.Context, tabID int) error

	// ToggleCaptions starts or stops transcription in the tab's overlay.
	ToggleCaptions(ctx context.Context, tabID int) error

	// StopRecording is the overlay's stop button.
	StopRecording(ctx context.Context, tabID int) error
}

type refreshMsg struct{ snap Snapshot }

type actionDoneMsg struct {
	action string
	err    error
}

// Model is the bubbletea model.
type Model struct {
	backend Backend
	tabID   int
	refresh time.Duration

	snap    Snapshot
	busy    string
	lastErr string
	width   int
}

// New returns a model for tabID.
func New(backend Backend, tabID int) Model {
	return Model{backend: backend, tabID: tabID, refresh: DefaultRefresh, snap: backend.Snapshot(tabID)}
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, backend Backend, tabID int) error {
	_, err := tea.NewProgram(New(backend, tabID), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// Init starts the polling loop.
func (m Model) Init() tea.Cmd {
	return m.poll()
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg {
		return refreshMsg{snap: m.backend.Snapshot(m.tabID)}
	})
}

func (m Model) run(action string, fn func(context.Context, int) error) tea.Cmd {
	tabID := m.tabID
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(context.Background(), tabID)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case refreshMsg:
		m.snap = msg.snap
		return m, m.poll()

	case actionDoneMsg:
		m.busy = ""
		m.lastErr = ""
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
		m.snap = m.backend.Snapshot(m.tabID)
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "r", " ":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "toggle"
		return m, m.run("toggle", m.backend.ToggleRecording)
	case "c":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "captions"
		return m, m.run("captions", m.backend.ToggleCaptions)
	case "s":
		if m.busy != "" || !m.snap.HasOverlay {
			return m, nil
		}
		m.busy = "stop"
		return m, m.run("stop", m.backend.StopRecording)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	s := m.snap

	title := s.Tab.Title
	if title == "" {
		title = fmt.Sprintf("tab %d", m.tabID)
	}
	b.WriteString(titleStyle.Render("tabcaption") + dimStyle.Render(" · "+title) + "\n\n")

	if s.Recording {
		b.WriteString(recordingDotStyle.Render("●") + " recording")
	} else {
		b.WriteString(idleDotStyle.Render("○") + " idle")
	}
	if s.HasOverlay {
		b.WriteString(dimStyle.Render("  overlay: ") + statusLabel(s.Overlay.Status))
		if s.Overlay.Listening {
			b.WriteString(dimStyle.Render("  captions on"))
		}
	}
	b.WriteString("\n\n")

	if s.HasOverlay && s.Overlay.Shown {
		b.WriteString(levelMeter(s.Overlay.Level, 30) + "\n\n")
		text := s.Overlay.Caption
		if text == "" {
			text = "…"
		}
		b.WriteString(captionStyle.Render(text) + "\n")
	}

	if s.Overlay.Error != "" {
		b.WriteString("\n" + errorStyle.Render(s.Overlay.Error) + "\n")
	}
	if s.Overlay.CredentialPrompt {
		b.WriteString(dimStyle.Render("Set an API key with PUT /credential or SPEECHMATICS_API_KEY.") + "\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n" + errorStyle.Render(m.lastErr) + "\n")
	}

	b.WriteString("\n" + footer(m.busy))
	return b.String()
}

func statusLabel(st caption.Status) string {
	switch st {
	case caption.StatusListening:
		return levelLowStyle.Render(st.String())
	case caption.StatusWarning:
		return levelMidStyle.Render(st.String())
	case caption.StatusError:
		return levelHighStyle.Render(st.String())
	default:
		return dimStyle.Render(st.String())
	}
}

// levelMeter draws level (0-100) as a bar of width cells.
func levelMeter(level float64, width int) string {
	n := int(level / 100 * float64(width))
	n = max(0, min(width, n))
	style := levelLowStyle
	switch {
	case level > 80:
		style = levelHighStyle
	case level > 50:
		style = levelMidStyle
	}
	return style.Render(strings.Repeat("█", n)) + dimStyle.Render(strings.Repeat("░", width-n))
}

func footer(busy string) string {
	keys := []struct{ key, desc string }{
		{"r", "record"},
		{"c", "captions"},
		{"s", "stop"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k.key)+" "+footerDescStyle.Render(k.desc))
	}
	if busy != "" {
		parts = append(parts, dimStyle.Render(busy+"…"))
	}
	return strings.Join(parts, "  ")
}
