package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/pkg/audio"
	"github.com/MrWong99/tabcaption/pkg/protocol"
	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// ErrBusy is returned by StartListening while another start is in flight.
var ErrBusy = errors.New("overlay: transcription start already in progress")

// listenSession is one open transcription session.
type listenSession struct {
	id       string
	handle   stt.SessionHandle
	consumed chan struct{}
}

// Listening reports whether a transcription session is open.
func (o *Overlay) Listening() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess != nil
}

// StartListening opens a transcription session and asks the controller to
// forward this tab's audio. Without a configured key it returns
// stt.ErrNoCredential and raises the credential prompt. A rejected token
// exchange is reported in the overlay's error state and never retried; no
// streaming connection is attempted after one. Starting while listening is
// a no-op.
func (o *Overlay) StartListening(ctx context.Context) (err error) {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return fmt.Errorf("overlay: start listening: %w", protocol.ErrContextNotReady)
	case o.sess != nil:
		o.mu.Unlock()
		return nil
	case o.starting:
		o.mu.Unlock()
		return ErrBusy
	}
	o.starting = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.starting = false
		o.mu.Unlock()
	}()

	ctx, span := observe.StartSpan(ctx, "overlay.start_listening")
	span.SetAttributes(observe.TabAttr(o.tab.ID))
	defer func() { observe.EndSpan(span, err) }()
	if o.cfg.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StartTimeout)
		defer cancel()
	}
	start := time.Now()

	key, err := o.creds.APIKey(ctx)
	if err == nil && key == "" {
		err = stt.ErrNoCredential
	}
	if err != nil {
		if errors.Is(err, stt.ErrNoCredential) {
			o.fail("API key is required", true)
		} else {
			o.fail("Could not read the stored API key", false)
		}
		return fmt.Errorf("overlay: start listening: %w", err)
	}

	tok, err := o.exchange(ctx, key)
	if err != nil {
		o.fail(userReason(err), isRejection(err))
		return fmt.Errorf("overlay: start listening: %w", err)
	}

	handle, err := o.provider.StartStream(ctx, stt.StreamConfig{
		Token:          tok.Value,
		SampleRate:     o.cfg.SampleRate,
		Encoding:       stt.EncodingPCMF32LE,
		Language:       o.cfg.Language,
		EnablePartials: true,
		OperatingPoint: o.cfg.OperatingPoint,
	})
	if err != nil {
		o.metrics.RecordProviderError(ctx, o.providerName, "start")
		o.fail(userReason(err), false)
		return fmt.Errorf("overlay: start listening: %w", err)
	}

	ls := &listenSession{id: uuid.NewString(), handle: handle, consumed: make(chan struct{})}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = handle.Close()
		return fmt.Errorf("overlay: start listening: %w", protocol.ErrContextNotReady)
	}
	o.sess = ls
	o.errMsg = ""
	o.prompt = false
	o.transcript.Clear()
	o.transcript.Activate(true)
	o.refreshStatusLocked()
	o.mu.Unlock()
	go o.consume(ls)

	o.metrics.ActiveTranscriptions.Add(ctx, 1)
	o.metrics.TranscriptionStartDuration.Record(ctx, time.Since(start).Seconds())
	o.publish()
	observe.Logger(ctx).Info("overlay: listening", "tab", o.tab.ID, "session", ls.id)

	// Failures here are logged only: the stall monitor surfaces a dead feed.
	if resp, err := o.port.Send(ctx, protocol.GetAudioStream(0).To(protocol.TargetBackground)); err != nil {
		slog.Warn("overlay: request audio stream", "tab", o.tab.ID, "err", err)
	} else if err := resp.Err(); err != nil {
		slog.Warn("overlay: audio stream unavailable", "tab", o.tab.ID, "err", err)
	}
	if resp, err := o.port.Send(ctx, protocol.EnableTranscription(true, 0).To(protocol.TargetBackground)); err != nil {
		slog.Warn("overlay: enable transcription", "tab", o.tab.ID, "err", err)
	} else if err := resp.Err(); err != nil {
		slog.Warn("overlay: enable transcription refused", "tab", o.tab.ID, "err", err)
	}
	return nil
}

// exchange trades the API key for a session token.
func (o *Overlay) exchange(ctx context.Context, key string) (stt.Token, error) {
	ctx, span := observe.StartSpan(ctx, "overlay.token_exchange")
	start := time.Now()
	tok, err := o.tokens.Exchange(ctx, key)
	o.metrics.TokenExchangeDuration.Record(ctx, time.Since(start).Seconds())
	o.metrics.RecordTokenExchange(ctx, exchangeStatus(err))
	observe.EndSpan(span, err)
	return tok, err
}

// StopListening ends the session: forwarding is disabled, silence padding
// flushes the last partial, end-of-stream is signalled and the session is
// force-closed when the acknowledgement does not arrive in time. Resources
// are released on every path. Stopping while idle is a no-op.
func (o *Overlay) StopListening(ctx context.Context) error {
	o.mu.Lock()
	ls := o.sess
	o.sess = nil
	o.transcript.Activate(false)
	o.mu.Unlock()
	if ls == nil {
		return nil
	}
	o.publish()
	defer o.metrics.ActiveTranscriptions.Add(context.Background(), -1)

	if err := o.port.Post(protocol.EnableTranscription(false, 0).To(protocol.TargetBackground)); err != nil {
		slog.Debug("overlay: disable transcription", "tab", o.tab.ID, "err", err)
	}

	silence := audio.EncodeFloat32LE(make([]float32, o.cfg.PaddingSamples))
	for range o.cfg.PaddingFrames {
		if err := ls.handle.SendAudio(silence); err != nil {
			slog.Debug("overlay: send padding", "tab", o.tab.ID, "err", err)
			break
		}
	}

	timer := time.NewTimer(o.cfg.PaddingDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	finishCtx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	defer cancel()
	var stopErr error
	if err := ls.handle.Finish(finishCtx); err != nil {
		slog.Warn("overlay: end of transcript not acknowledged, closing", "tab", o.tab.ID, "err", err)
		if cerr := ls.handle.Close(); cerr != nil {
			stopErr = fmt.Errorf("overlay: close session: %w", cerr)
		}
	}

	select {
	case <-ls.consumed:
	case <-ctx.Done():
		_ = ls.handle.Close()
		<-ls.consumed
	}
	slog.Info("overlay: stopped listening", "tab", o.tab.ID, "session", ls.id)
	return stopErr
}

// StopRecording is the overlay's own stop control: listening ends, the
// controller is asked to stop the tab's recording and the overlay hides
// once it confirms.
func (o *Overlay) StopRecording(ctx context.Context) error {
	if err := o.StopListening(ctx); err != nil {
		slog.Warn("overlay: stop listening before stop recording", "tab", o.tab.ID, "err", err)
	}
	resp, err := o.port.Send(ctx, protocol.StopRecording().To(protocol.TargetBackground))
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return fmt.Errorf("overlay: stop recording: %w", err)
	}
	o.setShown(false)
	return nil
}

// consume applies session events until the stream closes. Events of a
// session that is no longer current are drained and ignored.
func (o *Overlay) consume(ls *listenSession) {
	defer close(ls.consumed)
	ctx := context.Background()
	ended := false

	for ev := range ls.handle.Events() {
		o.metrics.RecordTranscriptEvent(ctx, ev.Kind.String())

		o.mu.Lock()
		current := o.sess == ls
		o.mu.Unlock()

		switch ev.Kind {
		case stt.EventPartial:
			if !current {
				continue
			}
			o.mu.Lock()
			committed := o.transcript.Partial(ev.Transcript.Text, o.now())
			o.mu.Unlock()
			if committed {
				o.metrics.CaptionCommits.Add(ctx, 1)
			}
			o.publish()

		case stt.EventFinal:
			// Captions are built from partials only. A final ends the segment
			// the partials were revising.
			if current {
				o.mu.Lock()
				o.transcript.Final()
				o.mu.Unlock()
			}

		case stt.EventEndOfTranscript:
			slog.Debug("overlay: end of transcript", "tab", o.tab.ID, "session", ls.id)

		case stt.EventWarning:
			slog.Warn("overlay: transcription warning", "tab", o.tab.ID, "message", ev.Message)

		case stt.EventError:
			o.metrics.RecordProviderError(ctx, o.providerName, errorKind(ev.Err))
			msg := ev.Message
			if msg == "" {
				msg = userReason(ev.Err)
			}
			slog.Error("overlay: transcription error", "tab", o.tab.ID, "message", msg, "err", ev.Err)
			if current {
				o.fail(msg, false)
			}

		case stt.EventClosed:
			ended = true
		}
	}

	// A session that ended on its own is not reconnected.
	o.mu.Lock()
	dropped := o.sess == ls
	if dropped {
		o.sess = nil
		o.transcript.Activate(false)
	}
	o.mu.Unlock()
	if dropped {
		slog.Warn("overlay: transcription session ended", "tab", o.tab.ID, "session", ls.id, "closed_event", ended)
		_ = ls.handle.Close()
		o.metrics.ActiveTranscriptions.Add(ctx, -1)
		o.publish()
	}
}

// fail records a user-facing error and optionally raises the credential
// prompt.
func (o *Overlay) fail(msg string, prompt bool) {
	o.mu.Lock()
	o.errMsg = msg
	if prompt {
		o.prompt = true
	}
	o.refreshStatusLocked()
	o.mu.Unlock()
	o.publish()
}

// ClearError dismisses the error state and the credential prompt.
func (o *Overlay) ClearError() {
	o.mu.Lock()
	o.errMsg = ""
	o.prompt = false
	o.refreshStatusLocked()
	o.mu.Unlock()
	o.publish()
}

func userReason(err error) string {
	var ce *stt.CredentialError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	var se *stt.ServiceError
	if errors.As(err, &se) {
		return se.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Connection timed out. Please try again."
	}
	return "Failed to authenticate with Speechmatics"
}

func isRejection(err error) bool {
	var ce *stt.CredentialError
	return errors.As(err, &ce) && (ce.StatusCode == 401 || ce.StatusCode == 403)
}

func exchangeStatus(err error) string {
	if err == nil {
		return "200"
	}
	var ce *stt.CredentialError
	if errors.As(err, &ce) {
		return strconv.Itoa(ce.StatusCode)
	}
	return "error"
}

func errorKind(err error) string {
	var se *stt.ServiceError
	if errors.As(err, &se) && se.Kind == stt.ConnectionFailure {
		return "connection"
	}
	return "service"
}
