package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/tabcaption/pkg/protocol"
)

var (
	// ErrReplyTimeout is returned when a context accepted a message but did
	// not answer in time. Liveness is then unknown.
	ErrReplyTimeout = errors.New("browser: reply timeout")

	// ErrMailboxFull is returned by fire-and-forget sends to a saturated
	// context.
	ErrMailboxFull = errors.New("browser: mailbox full")
)

type envelope struct {
	ctx   context.Context
	msg   protocol.Message
	from  Sender
	reply chan protocol.Response
}

// mailbox runs a handler on a single goroutine.
type mailbox struct {
	name    string
	handler Handler
	in      chan envelope
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newMailbox(name string, h Handler, size int) *mailbox {
	m := &mailbox{
		name:    name,
		handler: h,
		in:      make(chan envelope, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) run() {
	defer close(m.stopped)
	for {
		select {
		case env := <-m.in:
			resp := m.handler.HandleMessage(env.ctx, env.msg, env.from)
			if env.reply != nil {
				env.reply <- resp
			}
		case <-m.done:
			return
		}
	}
}

// send enqueues msg and waits for the reply, bounded by timeout.
func (m *mailbox) send(ctx context.Context, msg protocol.Message, from Sender, timeout time.Duration) (protocol.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	env := envelope{ctx: context.WithoutCancel(ctx), msg: msg, from: from, reply: make(chan protocol.Response, 1)}
	select {
	case m.in <- env:
	case <-m.done:
		return protocol.Response{}, fmt.Errorf("browser: %s: %w", m.name, protocol.ErrContextNotReady)
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	case <-timer.C:
		return protocol.Response{}, fmt.Errorf("browser: %s: %w", m.name, ErrReplyTimeout)
	}

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-m.stopped:
		return protocol.Response{}, fmt.Errorf("browser: %s: %w", m.name, protocol.ErrContextNotReady)
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	case <-timer.C:
		return protocol.Response{}, fmt.Errorf("browser: %s: %w", m.name, ErrReplyTimeout)
	}
}

// post enqueues msg without waiting.
func (m *mailbox) post(msg protocol.Message, from Sender) error {
	select {
	case <-m.done:
		return fmt.Errorf("browser: %s: %w", m.name, protocol.ErrContextNotReady)
	default:
	}
	select {
	case m.in <- envelope{ctx: context.Background(), msg: msg, from: from}:
		return nil
	default:
		return fmt.Errorf("browser: %s: %w", m.name, ErrMailboxFull)
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
}
