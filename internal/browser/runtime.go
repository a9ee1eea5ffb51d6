// Package browser models the host browser as a set of privilege-separated
// execution contexts that exchange [protocol.Message] values.
//
// The controller sees the browser through [Runtime]: it may create the audio
// host context, mint tab-capture stream identifiers, inject overlays and send
// messages to either. The audio host and overlays see only a [Port] back to
// the controller. Contexts never share memory.
//
// [Local] is the in-process implementation: every context runs its handler on
// its own mailbox goroutine, so handlers are single-threaded and messages on
// one channel keep their order.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/tabcaption/pkg/protocol"
)

// Kind identifies the execution context a message came from.
type Kind int

const (
	// KindController is the background controller.
	KindController Kind = iota

	// KindHost is the offscreen audio host.
	KindHost

	// KindOverlay is an overlay injected into a tab.
	KindOverlay
)

// String returns the human-readable name of the context kind.
func (k Kind) String() string {
	switch k {
	case KindController:
		return "controller"
	case KindHost:
		return "host"
	case KindOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// Sender describes the origin of a message. TabID is set for overlays.
type Sender struct {
	Kind  Kind
	TabID int
}

func (s Sender) String() string {
	if s.Kind == KindOverlay {
		return fmt.Sprintf("overlay[%d]", s.TabID)
	}
	return s.Kind.String()
}

// Handler processes messages delivered to a context. HandleMessage runs on
// the context's mailbox goroutine and must not block on a synchronous send
// back to its caller.
type Handler interface {
	HandleMessage(ctx context.Context, msg protocol.Message, from Sender) protocol.Response
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, msg protocol.Message, from Sender) protocol.Response

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg protocol.Message, from Sender) protocol.Response {
	return f(ctx, msg, from)
}

// Document is a context created by the runtime on demand. Close is called
// when the context is torn down.
type Document interface {
	Handler
	Close() error
}

// HostDocument is the audio host context. URL exposes the durable state
// marker the controller reads to learn whether recording is active.
type HostDocument interface {
	Document
	URL() string
}

// Tab describes a browser tab.
type Tab struct {
	ID    int
	URL   string
	Title string
}

// Icon is the toolbar action icon state.
type Icon string

const (
	IconIdle      Icon = "idle"
	IconRecording Icon = "recording"
)

// Port is the channel from a host or overlay context back to the
// controller.
type Port interface {
	// Send delivers msg and waits for the reply. Non-delivery is returned as
	// protocol.ErrContextNotReady, a missing reply as ErrReplyTimeout.
	Send(ctx context.Context, msg protocol.Message) (protocol.Response, error)

	// Post delivers msg without waiting. It never blocks; when the receiver
	// cannot accept the message it is dropped and an error returned.
	Post(msg protocol.Message) error
}

// Runtime is the capability surface available to the controller.
type Runtime interface {
	// HostContext returns the audio host's URL and whether it exists.
	HostContext() (url string, ok bool)

	// CreateHostContext creates the audio host and waits until it accepts
	// messages. It fails if a host already exists.
	CreateHostContext(ctx context.Context) error

	// CloseHostContext tears down the audio host. Absent hosts are ignored.
	CloseHostContext(ctx context.Context) error

	// GetMediaStreamID mints a single-use tab-capture stream identifier.
	// A tab that refuses capture yields protocol.ErrPermissionDenied.
	GetMediaStreamID(ctx context.Context, tabID int) (string, error)

	// InjectOverlay injects the overlay into a tab. Injecting twice is a
	// no-op. A tab that refuses scripting yields protocol.ErrPermissionDenied.
	InjectOverlay(ctx context.Context, tabID int) error

	// SetIcon updates the toolbar action icon.
	SetIcon(ctx context.Context, icon Icon) error

	// SendToHost delivers msg to the audio host and waits for the reply.
	SendToHost(ctx context.Context, msg protocol.Message) (protocol.Response, error)

	// SendToTab delivers msg to a tab's overlay and waits for the reply.
	SendToTab(ctx context.Context, tabID int, msg protocol.Message) (protocol.Response, error)

	// PostToTab delivers msg to a tab's overlay without waiting.
	PostToTab(tabID int, msg protocol.Message) error
}

// FailureReason classifies a delivery error into a short metric label.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, protocol.ErrContextNotReady):
		return "not_ready"
	case errors.Is(err, ErrMailboxFull):
		return "mailbox_full"
	case errors.Is(err, ErrReplyTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
