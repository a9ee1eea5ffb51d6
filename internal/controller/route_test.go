package controller_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/pkg/protocol"
)

func TestRoute_OffscreenIsForwarded(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.hasHost, rt.recording = true, true
	c, reader := newTestController(t, rt)

	resp := c.RouteMessage(context.Background(), protocol.GetAudioStream(4), fromOverlay(4))
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	hostMsgs, _, _, _ := rt.snapshot()
	if len(hostMsgs) != 1 || hostMsgs[0].Type != protocol.TypeGetAudioStream || hostMsgs[0].TabID != 4 {
		t.Errorf("host messages = %v", hostMsgs)
	}
	if got := counterSum(t, reader, "tabcaption.messages.routed", "outcome", "forwarded"); got != 1 {
		t.Errorf("forwarded = %d", got)
	}
}

func TestRoute_OffscreenWithoutHost(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	c, _ := newTestController(t, rt)

	resp := c.RouteMessage(context.Background(), protocol.StopRecording(), fromOverlay(1))
	if resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Error, protocol.ErrContextNotReady.Error()) {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestRoute_RelaysToOverlay(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.overlays[5] = true
	c, _ := newTestController(t, rt)
	ctx := context.Background()
	samples := []float32{0.1, -0.2, 0.3}

	if resp := c.RouteMessage(ctx, protocol.ForwardAudioData(5, samples), fromHost()); !resp.Success {
		t.Fatalf("data relay = %+v", resp)
	}
	if resp := c.RouteMessage(ctx, protocol.ForwardAudioLevel(5, 42), fromHost()); !resp.Success {
		t.Fatalf("level relay = %+v", resp)
	}

	_, _, posts, _ := rt.snapshot()
	if len(posts) != 2 {
		t.Fatalf("posts = %v", posts)
	}
	if posts[0].tab != 5 || posts[0].msg.Type != protocol.TypeAudioData || !slices.Equal(posts[0].msg.Samples, samples) {
		t.Errorf("data = %v", posts[0])
	}
	if posts[1].msg.Type != protocol.TypeAudioLevel || posts[1].msg.Level != 42 {
		t.Errorf("level = %v", posts[1])
	}
}

func TestRoute_RelayFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(*fakeRuntime)
		tab    int
		reason string
	}{
		{"overlay not injected", func(*fakeRuntime) {}, 9, "not_ready"},
		{"mailbox full", func(r *fakeRuntime) {
			r.overlays[9] = true
			r.postErr = browser.ErrMailboxFull
		}, 9, "mailbox_full"},
		{"no tab", func(*fakeRuntime) {}, 0, "no_tab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt := newFakeRuntime()
			tt.setup(rt)
			c, reader := newTestController(t, rt)

			resp := c.RouteMessage(context.Background(), protocol.ForwardAudioData(tt.tab, []float32{0.5}), fromHost())
			if !resp.Success {
				t.Errorf("relay failure surfaced: %+v", resp)
			}
			if got := counterSum(t, reader, "tabcaption.relay.failures", "reason", tt.reason); got != 1 {
				t.Errorf("relay failures[%s] = %d, want 1", tt.reason, got)
			}
			if got := counterSum(t, reader, "tabcaption.messages.routed", "outcome", "dropped"); got != 1 {
				t.Errorf("dropped = %d, want 1", got)
			}
		})
	}
}

func TestRoute_HostLevelReachesActiveTab(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.overlays[7] = true
	c, _ := newTestController(t, rt)
	ctx := context.Background()

	// Idle: acknowledged, nothing relayed.
	if resp := c.RouteMessage(ctx, protocol.AudioLevel(30), fromHost()); !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if _, _, posts, _ := rt.snapshot(); len(posts) != 0 {
		t.Fatalf("posts while idle = %v", posts)
	}

	if _, err := c.Toggle(ctx, tab7); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	c.RouteMessage(ctx, protocol.AudioLevel(30), fromHost())
	_, _, posts, _ := rt.snapshot()
	if len(posts) != 1 || posts[0].tab != 7 || posts[0].msg.Level != 30 {
		t.Errorf("posts = %v", posts)
	}
}

func TestRoute_Unrecognized(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	c, reader := newTestController(t, rt)

	for _, msg := range []protocol.Message{
		{Type: "bogus"},
		{Type: protocol.TypePing, Target: protocol.TargetBackground},
		protocol.AudioLevel(10), // only the host sends telemetry
	} {
		resp := c.RouteMessage(context.Background(), msg, fromOverlay(2))
		if resp.Success || resp.Error != "unrecognized message" {
			t.Errorf("%v: resp = %+v", msg, resp)
		}
	}
	if got := counterSum(t, reader, "tabcaption.messages.routed", "outcome", "unrecognized"); got != 3 {
		t.Errorf("unrecognized = %d, want 3", got)
	}
}

func TestRoute_GetAudioStreamNeedsRecording(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	c, _ := newTestController(t, rt)
	ctx := context.Background()
	msg := protocol.GetAudioStream(0).To(protocol.TargetBackground)

	resp := c.RouteMessage(ctx, msg, fromOverlay(7))
	if resp.Success || resp.Error != protocol.MsgNoRecording {
		t.Fatalf("idle resp = %+v", resp)
	}
	if !errors.Is(resp.Err(), protocol.ErrNoRecording) {
		t.Errorf("Err() = %v", resp.Err())
	}

	if _, err := c.Toggle(ctx, tab7); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if resp := c.RouteMessage(ctx, msg, fromOverlay(7)); !resp.Success {
		t.Fatalf("recording resp = %+v", resp)
	}
	hostMsgs, _, _, _ := rt.snapshot()
	last := hostMsgs[len(hostMsgs)-1]
	if last.Type != protocol.TypeGetAudioStream || last.TabID != 7 || last.Target != protocol.TargetOffscreen {
		t.Errorf("forwarded = %v, want sender tab stamped", last)
	}
}

func TestRoute_EnableTranscriptionStartsRecording(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.overlays[7] = true
	c, _ := newTestController(t, rt)

	resp := c.RouteMessage(context.Background(),
		protocol.EnableTranscription(true, 0).To(protocol.TargetBackground), fromOverlay(7))
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	got := rt.hostTypes()
	want := []protocol.Type{protocol.TypeStartRecording, protocol.TypeEnableTranscription}
	if !slices.Equal(got, want) {
		t.Fatalf("host messages = %v, want %v", got, want)
	}
	hostMsgs, _, _, icons := rt.snapshot()
	if hostMsgs[1].TabID != 7 || !hostMsgs[1].Enable {
		t.Errorf("enable = %v", hostMsgs[1])
	}
	if !slices.Equal(icons, []browser.Icon{browser.IconRecording}) {
		t.Errorf("icons = %v", icons)
	}
	sess := c.Session()
	if !sess.Recording() || sess.ActiveTabID != 7 || !sess.TranscriptionEnabled {
		t.Errorf("session = %+v", sess)
	}
}

func TestRoute_EnableTranscriptionFailsOnDeniedCapture(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.overlays[7] = true
	rt.streamErr = protocol.ErrPermissionDenied
	c, _ := newTestController(t, rt)

	resp := c.RouteMessage(context.Background(),
		protocol.EnableTranscription(true, 0).To(protocol.TargetBackground), fromOverlay(7))
	if resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if c.Session().Recording() {
		t.Error("recording after denied capture")
	}
}

func TestRoute_DisableWhileIdle(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	c, _ := newTestController(t, rt)

	resp := c.RouteMessage(context.Background(),
		protocol.EnableTranscription(false, 0).To(protocol.TargetBackground), fromOverlay(7))
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if got := rt.hostTypes(); len(got) != 0 {
		t.Errorf("host messages = %v", got)
	}
}

func TestRoute_OverlayStopRecording(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	c, _ := newTestController(t, rt)
	ctx := context.Background()

	if _, err := c.Toggle(ctx, tab7); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	_, before, _, _ := rt.snapshot()

	resp := c.RouteMessage(ctx, protocol.StopRecording().To(protocol.TargetBackground), fromOverlay(7))
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	hostMsgs, after, _, icons := rt.snapshot()
	if hostMsgs[len(hostMsgs)-1].Type != protocol.TypeStopRecording {
		t.Errorf("host messages = %v", hostMsgs)
	}
	if icons[len(icons)-1] != browser.IconIdle {
		t.Errorf("icons = %v", icons)
	}
	if len(after) != len(before) {
		t.Errorf("overlay messaged during its own stop: %v", after[len(before):])
	}
	if c.Session().Recording() {
		t.Error("still recording")
	}
}

func TestRoute_OtherTabCannotTakeOver(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.overlays[7], rt.overlays[8] = true, true
	c, reader := newTestController(t, rt)
	ctx := context.Background()

	if _, err := c.Toggle(ctx, tab7); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	before := len(rt.hostTypes())

	tests := []struct {
		name    string
		msg     protocol.Message
		success bool
	}{
		{name: "enable", msg: protocol.EnableTranscription(true, 0)},
		{name: "disable", msg: protocol.EnableTranscription(false, 0), success: true},
		{name: "audio stream", msg: protocol.GetAudioStream(0)},
		{name: "stop", msg: protocol.StopRecording()},
	}
	for _, tt := range tests {
		resp := c.RouteMessage(ctx, tt.msg.To(protocol.TargetBackground), fromOverlay(8))
		if resp.Success != tt.success {
			t.Errorf("%s: resp = %+v", tt.name, resp)
		}
		if !tt.success && !errors.Is(resp.Err(), protocol.ErrOtherTabRecording) {
			t.Errorf("%s: Err() = %v", tt.name, resp.Err())
		}
	}

	if got := rt.hostTypes(); len(got) != before {
		t.Errorf("host messaged for another tab: %v", got[before:])
	}
	sess := c.Session()
	if !sess.Recording() || sess.ActiveTabID != 7 {
		t.Errorf("session = %+v", sess)
	}
	if got := counterSum(t, reader, "tabcaption.messages.routed", "outcome", "other_tab"); got != 3 {
		t.Errorf("other_tab = %d", got)
	}
	if got := counterSum(t, reader, "tabcaption.messages.routed", "outcome", "ignored"); got != 1 {
		t.Errorf("ignored = %d", got)
	}
}
