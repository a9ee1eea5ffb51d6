package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrNoCredential reports that no API credential is configured. Callers
// respond by prompting for one.
var ErrNoCredential = errors.New("stt: no API credential configured")

// ErrSessionClosed is returned by SendAudio after the session ended.
var ErrSessionClosed = errors.New("stt: session is closed")

// CredentialError is a rejected token exchange. Reason is user-facing.
type CredentialError struct {
	StatusCode int
	Reason     string
}

func (e *CredentialError) Error() string { return e.Reason }

// ServiceErrorKind classifies a [ServiceError].
type ServiceErrorKind int

const (
	// ServiceFailure is an error reported by the service in-band.
	ServiceFailure ServiceErrorKind = iota

	// ConnectionFailure is a transport-level failure.
	ConnectionFailure
)

// ServiceError is a mid-session failure. Sessions are never reconnected
// after one. Reason is user-facing; Err holds the underlying cause.
type ServiceError struct {
	Kind   ServiceErrorKind
	Reason string
	Err    error
}

func (e *ServiceError) Error() string { return e.Reason }

func (e *ServiceError) Unwrap() error { return e.Err }

// ReasonForStatus maps a failed token exchange to a user-facing reason.
// body is consulted for a "detail" or "message" field on unmapped statuses.
func ReasonForStatus(status int, body []byte) string {
	switch status {
	case http.StatusUnauthorized:
		return "Invalid API key. Please check your Speechmatics API key and try again."
	case http.StatusForbidden:
		return "Access denied. Your API key may have expired or have insufficient permissions."
	case http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	}
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return "Invalid API key or service unavailable"
}

// NewServiceError maps an in-band service error description to a
// user-facing reason.
func NewServiceError(reason string) *ServiceError {
	lower := strings.ToLower(reason)
	msg := reason
	switch {
	case strings.Contains(lower, "language"):
		msg = "Language detection failed. Please try speaking again."
	case strings.Contains(lower, "audio"):
		msg = "Audio processing error. Please check your microphone and try again."
	case strings.Contains(lower, "quota"):
		msg = "API quota exceeded. Please try again later."
	case msg == "":
		msg = "Unknown error occurred"
	}
	return &ServiceError{Kind: ServiceFailure, Reason: msg, Err: errors.New(reason)}
}

// NewConnectionError wraps a transport failure with a user-facing reason.
func NewConnectionError(err error) *ServiceError {
	msg := "Connection error occurred"
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(errString(err)), "timeout"):
		msg = "Connection timed out. Please try again."
	case strings.Contains(strings.ToLower(errString(err)), "websocket"):
		msg = "Connection lost. Please check your internet connection and try again."
	}
	return &ServiceError{Kind: ConnectionFailure, Reason: msg, Err: err}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
