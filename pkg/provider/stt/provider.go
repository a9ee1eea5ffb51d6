// Package stt defines the Provider interface for real-time Speech-to-Text
// backends.
//
// An STT provider wraps a streaming transcription service and exposes a
// uniform interface. The central abstraction is SessionHandle: once opened, a
// session accepts raw pcm_f32le audio and emits a single ordered stream of
// typed [Event] values (partial results, final results, end of transcript,
// warnings, errors and closure). Consumers subscribe by ranging over
// Events and stop by calling Finish or Close.
//
// Access to the streaming endpoint is authorised by a short-lived token that
// a [TokenSource] mints from the long-lived API credential.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Encoding names an audio wire encoding accepted by a provider.
type Encoding string

// EncodingPCMF32LE is single-channel little-endian float32 PCM.
const EncodingPCMF32LE Encoding = "pcm_f32le"

// StreamConfig describes the audio format and recognition options for a new
// session.
type StreamConfig struct {
	// Token is the short-lived access token returned by a [TokenSource].
	Token string

	// SampleRate is the audio sample rate in Hz. Tab capture delivers 48000.
	SampleRate int

	// Encoding is the raw audio encoding. Empty means EncodingPCMF32LE.
	Encoding Encoding

	// Language is the recognition language code (e.g. "en").
	Language string

	// EnablePartials requests low-latency interim results.
	EnablePartials bool

	// OperatingPoint selects the provider's accuracy/latency model
	// ("standard" or "enhanced").
	OperatingPoint string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live service.
//
// Callers must call Finish or Close when the session is no longer needed.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of encoded audio. Calling SendAudio after
	// Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the ordered event stream. The channel is closed after
	// an EventClosed is delivered.
	Events() <-chan Event

	// Finish signals end of input and waits until the service acknowledges
	// with EventEndOfTranscript or ctx expires. It always releases the
	// connection before returning; on ctx expiry the session is force-closed
	// and ctx.Err() is returned.
	Finish(ctx context.Context) error

	// Close terminates the session immediately without waiting for pending
	// results. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The returned SessionHandle
	// is ready to accept audio once StartStream returns.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, or ctx cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Token is a short-lived credential for the streaming endpoint.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource exchanges a long-lived API credential for a short-lived
// streaming token.
type TokenSource interface {
	// Exchange returns a fresh token. Rejections by the service are returned
	// as *CredentialError.
	Exchange(ctx context.Context, apiKey string) (Token, error)
}
