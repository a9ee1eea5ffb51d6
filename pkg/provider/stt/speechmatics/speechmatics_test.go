package speechmatics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
	"github.com/coder/websocket"
)

// ---- transcript parsing ----

func TestTranscript_PrefersMetadata(t *testing.T) {
	var m serverMessage
	raw := `{"message":"AddPartialTranscript","metadata":{"transcript":"hello world ","start_time":1.5,"end_time":2}}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	tr := m.transcript()
	assertEqual(t, "text", "hello world", tr.Text)
	if tr.IsFinal {
		t.Error("partial marked final")
	}
	if tr.StartTime != 1500*time.Millisecond || tr.EndTime != 2*time.Second {
		t.Errorf("times = %v..%v", tr.StartTime, tr.EndTime)
	}
}

func TestTranscript_JoinsResults(t *testing.T) {
	var m serverMessage
	raw := `{"message":"AddTranscript","results":[
		{"type":"word","alternatives":[{"content":"the","confidence":1}]},
		{"type":"word","alternatives":[{"content":"fox","confidence":0.5}]},
		{"type":"punctuation","alternatives":[{"content":".","confidence":1}]}
	]}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	tr := m.transcript()
	assertEqual(t, "text", "the fox.", tr.Text)
	if !tr.IsFinal {
		t.Error("AddTranscript should be final")
	}
	if tr.Confidence < 0.83 || tr.Confidence > 0.84 {
		t.Errorf("confidence = %v", tr.Confidence)
	}
}

func TestStartRecognition_Defaults(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sr := p.startRecognition(stt.StreamConfig{EnablePartials: true})
	assertEqual(t, "message", "StartRecognition", sr.Message)
	assertEqual(t, "type", "raw", sr.AudioFormat.Type)
	assertEqual(t, "encoding", "pcm_f32le", sr.AudioFormat.Encoding)
	assertEqual(t, "language", "en", sr.TranscriptionConfig.Language)
	assertEqual(t, "operating_point", "standard", sr.TranscriptionConfig.OperatingPoint)
	if sr.AudioFormat.SampleRate != 48000 {
		t.Errorf("sample_rate = %d", sr.AudioFormat.SampleRate)
	}
	if !sr.TranscriptionConfig.EnablePartials {
		t.Error("enable_partials not set")
	}
}

func TestBuildURL_Token(t *testing.T) {
	p, _ := New(WithURL("wss://example.test/v2"))
	u, err := p.buildURL("abc")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "url", "wss://example.test/v2?jwt=abc", u)
}

// ---- live session against a scripted server ----

type rtServer struct {
	mu        sync.Mutex
	start     startRecognition
	binary    int
	lastSeqNo int
}

func newRTServer(t *testing.T, script func(ctx context.Context, c *websocket.Conn, s *rtServer)) (string, *rtServer) {
	t.Helper()
	state := &rtServer{lastSeqNo: -1}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("jwt") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		state.mu.Lock()
		_ = json.Unmarshal(data, &state.start)
		state.mu.Unlock()
		script(r.Context(), c, state)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), state
}

func writeJSON(ctx context.Context, c *websocket.Conn, v any) {
	b, _ := json.Marshal(v)
	_ = c.Write(ctx, websocket.MessageText, b)
}

// serveUntilEndOfStream counts binary frames and answers EndOfStream with a
// final and EndOfTranscript.
func serveUntilEndOfStream(ctx context.Context, c *websocket.Conn, s *rtServer) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			s.mu.Lock()
			s.binary++
			s.mu.Unlock()
			continue
		}
		var eos endOfStream
		if json.Unmarshal(data, &eos) == nil && eos.Message == "EndOfStream" {
			s.mu.Lock()
			s.lastSeqNo = eos.LastSeqNo
			s.mu.Unlock()
			writeJSON(ctx, c, map[string]any{"message": "AddTranscript", "metadata": map[string]any{"transcript": "hello world."}})
			writeJSON(ctx, c, map[string]any{"message": "EndOfTranscript"})
		}
	}
}

func nextEvent(t *testing.T, ch <-chan stt.Event) stt.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stt.Event{}
}

func TestSession_PartialThenFinish(t *testing.T) {
	url, state := newRTServer(t, func(ctx context.Context, c *websocket.Conn, s *rtServer) {
		writeJSON(ctx, c, map[string]any{"message": "RecognitionStarted", "id": "x"})
		writeJSON(ctx, c, map[string]any{"message": "AddPartialTranscript", "metadata": map[string]any{"transcript": "hello"}})
		serveUntilEndOfStream(ctx, c, s)
	})

	p, _ := New(WithURL(url))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Token: "tok", EnablePartials: true, SampleRate: 48000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	ev := nextEvent(t, h.Events())
	if ev.Kind != stt.EventPartial || ev.Transcript.Text != "hello" {
		t.Fatalf("first event = %+v", ev)
	}

	for range 3 {
		if err := h.SendAudio(make([]byte, 16)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var kinds []stt.EventKind
	for ev := range h.Events() {
		kinds = append(kinds, ev.Kind)
	}
	want := []stt.EventKind{stt.EventFinal, stt.EventEndOfTranscript, stt.EventClosed}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, kinds[i], want[i])
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.lastSeqNo != 3 {
		t.Errorf("last_seq_no = %d, want 3", state.lastSeqNo)
	}
	if state.binary != 3 {
		t.Errorf("binary frames = %d, want 3", state.binary)
	}
	assertEqual(t, "encoding", "pcm_f32le", state.start.AudioFormat.Encoding)

	if err := h.SendAudio([]byte{0}); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("SendAudio after Finish = %v, want ErrSessionClosed", err)
	}
}

func TestSession_ServiceError(t *testing.T) {
	url, _ := newRTServer(t, func(ctx context.Context, c *websocket.Conn, _ *rtServer) {
		writeJSON(ctx, c, map[string]any{"message": "RecognitionStarted"})
		writeJSON(ctx, c, map[string]any{"message": "Error", "type": "quota_exceeded", "reason": "limit reached"})
		_ = c.Close(websocket.StatusPolicyViolation, "quota")
	})

	p, _ := New(WithURL(url))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Token: "tok"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	ev := nextEvent(t, h.Events())
	if ev.Kind != stt.EventError {
		t.Fatalf("event = %v, want error", ev.Kind)
	}
	var se *stt.ServiceError
	if !errors.As(ev.Err, &se) || se.Kind != stt.ServiceFailure {
		t.Fatalf("Err = %v, want service failure", ev.Err)
	}
	assertEqual(t, "reason", "API quota exceeded. Please try again later.", se.Reason)

	if ev := nextEvent(t, h.Events()); ev.Kind != stt.EventClosed {
		t.Errorf("after service error got %v, want closed", ev.Kind)
	}
}

func TestSession_ConnectionDropped(t *testing.T) {
	url, _ := newRTServer(t, func(ctx context.Context, c *websocket.Conn, _ *rtServer) {
		writeJSON(ctx, c, map[string]any{"message": "RecognitionStarted"})
		c.CloseNow()
	})

	p, _ := New(WithURL(url))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Token: "tok"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	ev := nextEvent(t, h.Events())
	var se *stt.ServiceError
	if ev.Kind != stt.EventError || !errors.As(ev.Err, &se) || se.Kind != stt.ConnectionFailure {
		t.Fatalf("event = %+v, want connection failure", ev)
	}
}

func TestStartStream_RejectedConfig(t *testing.T) {
	url, _ := newRTServer(t, func(ctx context.Context, c *websocket.Conn, _ *rtServer) {
		writeJSON(ctx, c, map[string]any{"message": "Error", "type": "invalid_audio_type", "reason": "bad encoding"})
	})

	p, _ := New(WithURL(url))
	_, err := p.StartStream(context.Background(), stt.StreamConfig{Token: "tok"})
	var se *stt.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *stt.ServiceError", err)
	}
	if !strings.HasPrefix(se.Reason, "Audio processing error") {
		t.Errorf("Reason = %q", se.Reason)
	}
}

func TestStartStream_NoToken(t *testing.T) {
	p, _ := New(WithURL("ws://127.0.0.1:1/never"))
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, stt.ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestFinish_TimeoutForcesClose(t *testing.T) {
	url, _ := newRTServer(t, func(ctx context.Context, c *websocket.Conn, _ *rtServer) {
		writeJSON(ctx, c, map[string]any{"message": "RecognitionStarted"})
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	})

	p, _ := New(WithURL(url))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Token: "tok"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := h.Finish(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Finish = %v, want deadline exceeded", err)
	}
	for range h.Events() {
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
