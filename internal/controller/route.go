package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/pkg/protocol"
)

// errUnrecognized is the reply to messages no route accepts.
var errUnrecognized = errors.New("unrecognized message")

// HandleMessage implements [browser.Handler].
func (c *Controller) HandleMessage(ctx context.Context, msg protocol.Message, from browser.Sender) protocol.Response {
	return c.RouteMessage(ctx, msg, from)
}

// RouteMessage dispatches a message received from the audio host or an
// overlay. It never panics on unknown input and never returns delivery
// errors of best-effort relays.
func (c *Controller) RouteMessage(ctx context.Context, msg protocol.Message, from browser.Sender) protocol.Response {
	resp, outcome := c.route(ctx, msg, from)
	c.metrics.RecordMessageRouted(ctx, string(msg.Type), outcome)
	return resp
}

func (c *Controller) route(ctx context.Context, msg protocol.Message, from browser.Sender) (protocol.Response, string) {
	switch {
	case msg.Target == protocol.TargetOffscreen:
		resp, err := c.rt.SendToHost(ctx, msg)
		if err != nil {
			slog.Debug("controller: forward to host", "type", msg.Type, "err", err)
			return protocol.Fail(err), "failed"
		}
		return resp, "forwarded"

	case msg.Type == protocol.TypeForwardAudioData:
		return c.relay(msg.TabID, protocol.AudioData(msg.TabID, msg.Samples), msg.Type)

	case msg.Type == protocol.TypeForwardAudioLevel:
		return c.relay(msg.TabID, protocol.AudioLevel(msg.Level), msg.Type)

	case msg.Type == protocol.TypeAudioLevel && from.Kind == browser.KindHost:
		if tabID := c.Session().ActiveTabID; tabID != 0 {
			c.relay(tabID, msg, msg.Type)
		}
		return protocol.OK(), "acked"

	case msg.Target == protocol.TargetBackground:
		return c.routeBackground(ctx, msg, from)
	}

	slog.Debug("controller: unrecognized message", "msg", msg, "from", from)
	return protocol.Fail(errUnrecognized), "unrecognized"
}

// relay posts to an overlay without waiting. Failures are counted and
// dropped.
func (c *Controller) relay(tabID int, msg protocol.Message, relayed protocol.Type) (protocol.Response, string) {
	if tabID == 0 {
		c.metrics.RecordRelayFailure(context.Background(), string(relayed), "no_tab")
		return protocol.OK(), "dropped"
	}
	if err := c.rt.PostToTab(tabID, msg); err != nil {
		slog.Debug("controller: relay dropped", "type", relayed, "tab", tabID, "err", err)
		c.metrics.RecordRelayFailure(context.Background(), string(relayed), browser.FailureReason(err))
		return protocol.OK(), "dropped"
	}
	return protocol.OK(), "relayed"
}

// routeBackground handles requests overlays address to the controller.
func (c *Controller) routeBackground(ctx context.Context, msg protocol.Message, from browser.Sender) (protocol.Response, string) {
	tabID := msg.TabID
	if from.Kind == browser.KindOverlay {
		tabID = from.TabID
	}

	switch msg.Type {
	case protocol.TypeGetAudioStream:
		if !c.rehydrate() {
			return protocol.FailMessage(protocol.MsgNoRecording), "no_recording"
		}
		if c.otherTabRecording(tabID) {
			return protocol.FailMessage(protocol.MsgOtherTabRecording), "other_tab"
		}
		return c.forwardToHost(ctx, protocol.GetAudioStream(tabID))

	case protocol.TypeEnableTranscription:
		if !c.rehydrate() {
			if !msg.Enable {
				return protocol.OK(), "acked"
			}
			if err := c.autoStart(ctx, tabID); err != nil {
				slog.Warn("controller: start recording for transcription", "tab", tabID, "err", err)
				return protocol.Fail(err), "failed"
			}
		}
		if c.otherTabRecording(tabID) {
			// A disable from a tab that never held the binding leaves the
			// recorded tab's forwarding alone.
			if !msg.Enable {
				return protocol.OK(), "ignored"
			}
			slog.Info("controller: transcription refused, another tab is recording",
				"tab", tabID, "active_tab", c.Session().ActiveTabID)
			return protocol.FailMessage(protocol.MsgOtherTabRecording), "other_tab"
		}
		resp, outcome := c.forwardToHost(ctx, protocol.EnableTranscription(msg.Enable, tabID))
		if resp.Success {
			c.mu.Lock()
			c.session.TranscriptionEnabled = msg.Enable
			c.mu.Unlock()
		}
		return resp, outcome

	case protocol.TypeStopRecording:
		c.toggleMu.Lock()
		defer c.toggleMu.Unlock()
		if c.otherTabRecording(tabID) {
			return protocol.FailMessage(protocol.MsgOtherTabRecording), "other_tab"
		}
		if err := c.stopRecording(ctx, tabID, false); err != nil {
			return protocol.Fail(err), "failed"
		}
		return protocol.OK(), "stopped"
	}

	slog.Debug("controller: unrecognized background message", "msg", msg, "from", from)
	return protocol.Fail(errUnrecognized), "unrecognized"
}

// otherTabRecording reports whether the recorded tab is known and differs
// from tabID. A session rehydrated from the host marker has no known tab.
func (c *Controller) otherTabRecording(tabID int) bool {
	active := c.Session().ActiveTabID
	return active != 0 && tabID != 0 && active != tabID
}

// autoStart begins recording tabID unless a toggle won the race.
func (c *Controller) autoStart(ctx context.Context, tabID int) error {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()
	if err := c.ensureHost(ctx); err != nil {
		return err
	}
	if c.rehydrate() {
		return nil
	}
	return c.startRecording(ctx, browser.Tab{ID: tabID})
}

func (c *Controller) forwardToHost(ctx context.Context, msg protocol.Message) (protocol.Response, string) {
	resp, err := c.rt.SendToHost(ctx, msg)
	if err != nil {
		slog.Debug("controller: forward to host", "type", msg.Type, "err", err)
		return protocol.Fail(fmt.Errorf("forward %s: %w", msg.Type, err)), "failed"
	}
	return resp, "forwarded"
}
