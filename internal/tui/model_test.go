package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/caption"
	"github.com/MrWong99/tabcaption/internal/overlay"
)

type fakeBackend struct {
	mu         sync.Mutex
	snap       Snapshot
	toggles    int
	captions   int
	stops      int
	toggleErr  error
	lastTabArg int
}

func (f *fakeBackend) Snapshot(int) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeBackend) ToggleRecording(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	f.lastTabArg = tabID
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.snap.Recording = !f.snap.Recording
	return nil
}

func (f *fakeBackend) ToggleCaptions(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captions++
	f.lastTabArg = tabID
	f.snap.Overlay.Listening = !f.snap.Overlay.Listening
	return nil
}

func (f *fakeBackend) StopRecording(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.lastTabArg = tabID
	f.snap.Recording = false
	f.snap.Overlay.Shown = false
	return nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command through Update.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	updated, cmd := m.Update(key(k))
	m = updated.(Model)
	if cmd == nil {
		t.Fatalf("key %q returned no command", k)
	}
	updated, _ = m.Update(cmd())
	return updated.(Model)
}

func TestToggleRecordingKey(t *testing.T) {
	b := &fakeBackend{snap: Snapshot{Tab: browser.Tab{ID: 4, Title: "News"}}}
	m := New(b, 4)

	m = press(t, m, "r")
	if b.toggles != 1 || b.lastTabArg != 4 {
		t.Fatalf("toggles = %d (tab %d), want 1 (tab 4)", b.toggles, b.lastTabArg)
	}
	if !m.snap.Recording {
		t.Error("snapshot should show recording after toggle")
	}
	if m.busy != "" {
		t.Errorf("busy = %q, want cleared", m.busy)
	}
	if !strings.Contains(m.View(), "recording") {
		t.Error("view should show recording")
	}
}

func TestToggleErrorIsShown(t *testing.T) {
	b := &fakeBackend{toggleErr: errors.New("permission denied")}
	m := press(t, New(b, 1), "r")
	if !strings.Contains(m.View(), "permission denied") {
		t.Errorf("view should show the error, got:\n%s", m.View())
	}
}

func TestBusyIgnoresSecondPress(t *testing.T) {
	b := &fakeBackend{}
	m := New(b, 1)
	updated, _ := m.Update(key("r"))
	m = updated.(Model)
	if _, cmd := m.Update(key("c")); cmd != nil {
		t.Error("second action while busy should be ignored")
	}
}

func TestCaptionsKey(t *testing.T) {
	b := &fakeBackend{}
	m := press(t, New(b, 2), "c")
	if b.captions != 1 {
		t.Fatalf("captions = %d, want 1", b.captions)
	}
	if !m.snap.Overlay.Listening {
		t.Error("snapshot should show listening")
	}
}

func TestStopKey(t *testing.T) {
	b := &fakeBackend{}
	m := New(b, 3)
	if _, cmd := m.Update(key("s")); cmd != nil {
		t.Fatal("stop without an overlay should be ignored")
	}

	b.snap = Snapshot{Recording: true, HasOverlay: true, Overlay: overlay.State{Shown: true}}
	updated, _ := m.Update(refreshMsg{snap: b.snap})
	m = press(t, updated.(Model), "s")
	if b.stops != 1 || b.lastTabArg != 3 {
		t.Fatalf("stops = %d tab = %d", b.stops, b.lastTabArg)
	}
	if m.snap.Recording {
		t.Error("snapshot should show recording stopped")
	}
}

func TestQuit(t *testing.T) {
	_, cmd := New(&fakeBackend{}, 1).Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestRefreshRendersCaption(t *testing.T) {
	m := New(&fakeBackend{}, 1)
	snap := Snapshot{
		Recording:  true,
		HasOverlay: true,
		Overlay: overlay.State{
			Shown:   true,
			Status:  caption.StatusWarning,
			Caption: "QUICK BROWN",
			Level:   60,
		},
	}
	updated, cmd := m.Update(refreshMsg{snap: snap})
	m = updated.(Model)
	if cmd == nil {
		t.Error("refresh should schedule the next poll")
	}
	view := m.View()
	for _, want := range []string{"QUICK BROWN", "warning", "█"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestHiddenOverlayHasNoCaption(t *testing.T) {
	m := New(&fakeBackend{snap: Snapshot{HasOverlay: true, Overlay: overlay.State{Caption: "SECRET"}}}, 1)
	if strings.Contains(m.View(), "SECRET") {
		t.Error("hidden overlay should not render its caption")
	}
}

func TestCredentialPrompt(t *testing.T) {
	m := New(&fakeBackend{snap: Snapshot{Overlay: overlay.State{
		Error:            "Invalid API key",
		CredentialPrompt: true,
	}}}, 1)
	view := m.View()
	if !strings.Contains(view, "Invalid API key") || !strings.Contains(view, "PUT /credential") {
		t.Errorf("view should show the error and the credential hint:\n%s", view)
	}
}

func TestLevelMeter(t *testing.T) {
	tests := []struct {
		level float64
		full  int
	}{
		{0, 0},
		{50, 5},
		{100, 10},
		{250, 10},
		{-3, 0},
	}
	for _, tt := range tests {
		got := strings.Count(levelMeter(tt.level, 10), "█")
		if got != tt.full {
			t.Errorf("levelMeter(%v) filled %d cells, want %d", tt.level, got, tt.full)
		}
	}
}
