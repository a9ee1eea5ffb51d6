// Package protocol defines the messages exchanged between the three browser
// execution contexts: the controller, the audio host and the per-tab overlay.
//
// Contexts share no memory. Every interaction is a [Message] value delivered
// through the runtime and, for request/reply sends, answered with a
// [Response]. Messages sent along one channel between the same two endpoints
// preserve order; nothing is guaranteed across channels.
package protocol

import "fmt"

// Type discriminates a [Message].
type Type string

const (
	// TypeStartRecording asks the audio host to acquire the stream in StreamID.
	TypeStartRecording Type = "start-recording"

	// TypeStopRecording ends capture. Overlays may send it to the controller.
	TypeStopRecording Type = "stop-recording"

	// TypeGetAudioStream binds the transcription target tab on the audio host.
	TypeGetAudioStream Type = "get-audio-stream"

	// TypeEnableTranscription toggles raw frame forwarding for TabID.
	TypeEnableTranscription Type = "enable-transcription"

	// TypeAudioLevel carries visualization loudness (0-100). The audio host
	// emits it to the controller, which relays it to the active tab.
	TypeAudioLevel Type = "audio-level"

	// TypeForwardAudioData carries a raw PCM frame for TabID.
	TypeForwardAudioData Type = "forward-audio-data"

	// TypeForwardAudioLevel carries the RMS level of a forwarded frame.
	TypeForwardAudioLevel Type = "forward-audio-level"

	// TypeAudioData is the relayed form of TypeForwardAudioData as seen by
	// the overlay.
	TypeAudioData Type = "audio-data"

	// TypeToggleOverlay shows or hides the overlay widget.
	TypeToggleOverlay Type = "toggle-overlay"

	// TypePing is the liveness probe. Live contexts answer StatusOK.
	TypePing Type = "ping"
)

// Target routes a message sent to the controller.
type Target string

const (
	// TargetNone is a message addressed to the controller itself.
	TargetNone Target = ""

	// TargetOffscreen forwards the message to the audio host.
	TargetOffscreen Target = "offscreen"

	// TargetBackground marks overlay requests that the controller must stamp
	// with the sender tab before forwarding to the audio host.
	TargetBackground Target = "background"
)

// StatusOK is the Status of a successful ping reply.
const StatusOK = "ok"

// Message is a single cross-context message. Only the fields relevant to
// Type are set; see the constructors below.
type Message struct {
	Type   Type   `json:"type"`
	Target Target `json:"target,omitempty"`

	// TabID identifies the browser tab the message concerns. Zero means unset.
	TabID int `json:"tabId,omitempty"`

	// StreamID is the tab-capture stream identifier for TypeStartRecording.
	StreamID string `json:"streamId,omitempty"`

	// Samples is a mono float32 PCM frame for TypeForwardAudioData and
	// TypeAudioData.
	Samples []float32 `json:"data,omitempty"`

	// Level is a loudness value in [0, 100].
	Level float64 `json:"level,omitempty"`

	// Show is the requested overlay visibility for TypeToggleOverlay.
	Show bool `json:"show,omitempty"`

	// Enable is the requested forwarding state for TypeEnableTranscription.
	Enable bool `json:"enable,omitempty"`
}

// String returns a compact description for logs. Sample payloads are
// summarised by length.
func (m Message) String() string {
	s := string(m.Type)
	if m.Target != TargetNone {
		s += "@" + string(m.Target)
	}
	if m.TabID != 0 {
		s += fmt.Sprintf(" tab=%d", m.TabID)
	}
	if len(m.Samples) > 0 {
		s += fmt.Sprintf(" samples=%d", len(m.Samples))
	}
	return s
}

// To returns a copy of m addressed to target.
func (m Message) To(target Target) Message {
	m.Target = target
	return m
}

// Response is the reply to a request/reply send.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}

// OK is a successful reply.
func OK() Response { return Response{Success: true} }

// Fail builds an unsuccessful reply carrying err's message.
func Fail(err error) Response {
	if err == nil {
		return Response{Success: false}
	}
	return Response{Success: false, Error: err.Error()}
}

// FailMessage builds an unsuccessful reply with a user-facing message.
func FailMessage(msg string) Response {
	return Response{Success: false, Error: msg}
}

// Err converts an unsuccessful reply to an error. It returns nil for
// successful replies.
func (r Response) Err() error {
	if r.Success || r.Status == StatusOK {
		return nil
	}
	if r.Error == "" {
		return ErrUnsuccessful
	}
	return &RemoteError{Message: r.Error}
}

// ── Constructors ─────────────────────────────────────────────────────────────

// StartRecording builds a start-recording message for the audio host.
func StartRecording(streamID string, tabID int) Message {
	return Message{Type: TypeStartRecording, Target: TargetOffscreen, StreamID: streamID, TabID: tabID}
}

// StopRecording builds a stop-recording message for the audio host.
func StopRecording() Message {
	return Message{Type: TypeStopRecording, Target: TargetOffscreen}
}

// GetAudioStream builds a get-audio-stream message binding tabID.
func GetAudioStream(tabID int) Message {
	return Message{Type: TypeGetAudioStream, Target: TargetOffscreen, TabID: tabID}
}

// EnableTranscription builds an enable-transcription message for tabID.
func EnableTranscription(enable bool, tabID int) Message {
	return Message{Type: TypeEnableTranscription, Target: TargetOffscreen, Enable: enable, TabID: tabID}
}

// AudioLevel builds a visualization level message.
func AudioLevel(level float64) Message {
	return Message{Type: TypeAudioLevel, Level: level}
}

// ForwardAudioData builds a raw frame relay request for tabID.
func ForwardAudioData(tabID int, samples []float32) Message {
	return Message{Type: TypeForwardAudioData, TabID: tabID, Samples: samples}
}

// ForwardAudioLevel builds a level relay request for tabID.
func ForwardAudioLevel(tabID int, level float64) Message {
	return Message{Type: TypeForwardAudioLevel, TabID: tabID, Level: level}
}

// ToggleOverlay builds a visibility message for an overlay.
func ToggleOverlay(show bool) Message {
	return Message{Type: TypeToggleOverlay, Show: show}
}

// Ping builds a liveness probe.
func Ping() Message {
	return Message{Type: TypePing}
}

// AudioData builds the overlay-bound form of a forwarded frame.
func AudioData(tabID int, samples []float32) Message {
	return Message{Type: TypeAudioData, TabID: tabID, Samples: samples}
}
