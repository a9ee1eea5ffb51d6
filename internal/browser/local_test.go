package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/pkg/audio"
	audiomock "github.com/MrWong99/tabcaption/pkg/audio/mock"
	"github.com/MrWong99/tabcaption/pkg/protocol"
)

type recordingDoc struct {
	mu     sync.Mutex
	got    []protocol.Message
	from   []browser.Sender
	url    string
	closed bool
	block  chan struct{}
}

func (d *recordingDoc) HandleMessage(_ context.Context, msg protocol.Message, from browser.Sender) protocol.Response {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, msg)
	d.from = append(d.from, from)
	if msg.Type == protocol.TypePing {
		return protocol.Response{Status: protocol.StatusOK}
	}
	return protocol.OK()
}

func (d *recordingDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *recordingDoc) URL() string { return d.url }

func (d *recordingDoc) messages() []protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Message(nil), d.got...)
}

func newRuntime(t *testing.T, opts ...browser.Option) (*browser.Local, *recordingDoc, map[int]*recordingDoc) {
	t.Helper()
	rt := browser.NewLocal(opts...)
	host := &recordingDoc{url: "offscreen.html"}
	overlays := make(map[int]*recordingDoc)
	var mu sync.Mutex
	rt.SetHostFactory(func(browser.Port, audio.Capturer) browser.HostDocument { return host })
	rt.SetOverlayFactory(func(tab browser.Tab, _ browser.Port) browser.Document {
		mu.Lock()
		defer mu.Unlock()
		d := &recordingDoc{}
		overlays[tab.ID] = d
		return d
	})
	rt.SetController(browser.HandlerFunc(func(context.Context, protocol.Message, browser.Sender) protocol.Response {
		return protocol.OK()
	}))
	t.Cleanup(func() { _ = rt.Close() })
	return rt, host, overlays
}

func TestLocal_HostLifecycle(t *testing.T) {
	t.Parallel()
	rt, host, _ := newRuntime(t)
	ctx := context.Background()

	if _, ok := rt.HostContext(); ok {
		t.Fatal("host should not exist yet")
	}
	if _, err := rt.SendToHost(ctx, protocol.StopRecording()); !errors.Is(err, protocol.ErrContextNotReady) {
		t.Fatalf("SendToHost before create = %v, want ErrContextNotReady", err)
	}
	if err := rt.CreateHostContext(ctx); err != nil {
		t.Fatalf("CreateHostContext: %v", err)
	}
	if err := rt.CreateHostContext(ctx); !errors.Is(err, browser.ErrHostExists) {
		t.Fatalf("second CreateHostContext = %v, want ErrHostExists", err)
	}
	if url, ok := rt.HostContext(); !ok || url != "offscreen.html" {
		t.Fatalf("HostContext = %q, %v", url, ok)
	}
	resp, err := rt.SendToHost(ctx, protocol.StopRecording())
	if err != nil || !resp.Success {
		t.Fatalf("SendToHost = %+v, %v", resp, err)
	}
	if err := rt.CloseHostContext(ctx); err != nil {
		t.Fatalf("CloseHostContext: %v", err)
	}
	if !host.closed {
		t.Error("host document not closed")
	}
}

func TestLocal_InjectIsIdempotent(t *testing.T) {
	t.Parallel()
	rt, _, overlays := newRuntime(t)
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 7}})
	ctx := context.Background()

	if _, err := rt.SendToTab(ctx, 7, protocol.Ping()); !errors.Is(err, protocol.ErrContextNotReady) {
		t.Fatalf("ping before inject = %v", err)
	}
	for range 2 {
		if err := rt.InjectOverlay(ctx, 7); err != nil {
			t.Fatalf("InjectOverlay: %v", err)
		}
	}
	if len(overlays) != 1 {
		t.Fatalf("overlays created = %d, want 1", len(overlays))
	}
	resp, err := rt.SendToTab(ctx, 7, protocol.Ping())
	if err != nil || resp.Status != protocol.StatusOK {
		t.Fatalf("ping = %+v, %v", resp, err)
	}
}

func TestLocal_PermissionDenied(t *testing.T) {
	t.Parallel()
	rt, _, _ := newRuntime(t)
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 1}, DenyCapture: true, DenyScripting: true})
	ctx := context.Background()

	if _, err := rt.GetMediaStreamID(ctx, 1); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("GetMediaStreamID = %v, want ErrPermissionDenied", err)
	}
	if err := rt.InjectOverlay(ctx, 1); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("InjectOverlay = %v, want ErrPermissionDenied", err)
	}
	if _, err := rt.GetMediaStreamID(ctx, 99); err == nil {
		t.Error("unknown tab should fail")
	}
}

func TestLocal_StreamIDSingleUse(t *testing.T) {
	t.Parallel()
	rt, _, _ := newRuntime(t)
	stream := audiomock.NewStream(48000)
	rt.AddTab(browser.TabConfig{
		Tab:  browser.Tab{ID: 3},
		Open: func() (audio.Stream, error) { return stream, nil },
	})
	ctx := context.Background()

	id, err := rt.GetMediaStreamID(ctx, 3)
	if err != nil {
		t.Fatalf("GetMediaStreamID: %v", err)
	}
	s, err := rt.Capture(ctx, id)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !rt.Capturing(3) {
		t.Error("tab should be capturing")
	}
	if _, err := rt.GetMediaStreamID(ctx, 3); err == nil {
		t.Error("second stream id for a capturing tab should fail")
	}
	if _, err := rt.Capture(ctx, id); !errors.Is(err, protocol.ErrStreamAcquisition) {
		t.Errorf("reused stream id = %v, want ErrStreamAcquisition", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rt.Capturing(3) {
		t.Error("capture indicator should clear on Stop")
	}
	if !stream.Stopped() {
		t.Error("underlying stream not stopped")
	}
}

func TestLocal_CaptureWithoutAudio(t *testing.T) {
	t.Parallel()
	rt, _, _ := newRuntime(t)
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 4}})

	id, err := rt.GetMediaStreamID(context.Background(), 4)
	if err != nil {
		t.Fatalf("GetMediaStreamID: %v", err)
	}
	if _, err := rt.Capture(context.Background(), id); !errors.Is(err, protocol.ErrStreamAcquisition) {
		t.Fatalf("Capture = %v, want ErrStreamAcquisition", err)
	}
}

func TestLocal_PostPreservesOrder(t *testing.T) {
	t.Parallel()
	rt, _, overlays := newRuntime(t)
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 2}})
	if err := rt.InjectOverlay(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	for i := range 50 {
		if err := rt.PostToTab(2, protocol.AudioLevel(float64(i))); err != nil {
			t.Fatalf("PostToTab %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(overlays[2].messages()) < 50 {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d of 50", len(overlays[2].messages()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i, m := range overlays[2].messages() {
		if m.Level != float64(i) {
			t.Fatalf("message %d has level %v", i, m.Level)
		}
	}
}

func TestLocal_ReplyTimeoutIsUnknown(t *testing.T) {
	t.Parallel()
	rt, _, overlays := newRuntime(t, browser.WithReplyTimeout(50*time.Millisecond))
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 5}})
	if err := rt.InjectOverlay(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	overlays[5].block = release
	defer close(release)

	if _, err := rt.SendToTab(context.Background(), 5, protocol.Ping()); !errors.Is(err, browser.ErrReplyTimeout) {
		t.Fatalf("SendToTab = %v, want ErrReplyTimeout", err)
	}
}

func TestLocal_PostToFullMailbox(t *testing.T) {
	t.Parallel()
	rt, _, overlays := newRuntime(t, browser.WithMailboxSize(1))
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 6}})
	if err := rt.InjectOverlay(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	overlays[6].block = release
	defer close(release)

	var full bool
	for range 5 {
		if err := rt.PostToTab(6, protocol.AudioLevel(1)); errors.Is(err, browser.ErrMailboxFull) {
			full = true
			break
		}
	}
	if !full {
		t.Error("expected ErrMailboxFull once the mailbox saturates")
	}
}

func TestLocal_PortReachesController(t *testing.T) {
	t.Parallel()
	rt := browser.NewLocal()
	t.Cleanup(func() { _ = rt.Close() })

	got := make(chan browser.Sender, 1)
	rt.SetController(browser.HandlerFunc(func(_ context.Context, _ protocol.Message, from browser.Sender) protocol.Response {
		got <- from
		return protocol.OK()
	}))
	var port browser.Port
	rt.AddTab(browser.TabConfig{Tab: browser.Tab{ID: 8}})
	rt.SetOverlayFactory(func(_ browser.Tab, p browser.Port) browser.Document {
		port = p
		return &recordingDoc{}
	})
	if err := rt.InjectOverlay(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	if _, err := port.Send(context.Background(), protocol.StopRecording()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if from := <-got; from.Kind != browser.KindOverlay || from.TabID != 8 {
		t.Errorf("from = %v", from)
	}
}

func TestLocal_Icon(t *testing.T) {
	t.Parallel()
	rt, _, _ := newRuntime(t)
	if icon, n := rt.Icon(); icon != browser.IconIdle || n != 0 {
		t.Fatalf("initial icon = %v/%d", icon, n)
	}
	_ = rt.SetIcon(context.Background(), browser.IconRecording)
	if icon, n := rt.Icon(); icon != browser.IconRecording || n != 1 {
		t.Errorf("icon = %v/%d", icon, n)
	}
}
