package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/tabcaption/internal/audiohost"
	"github.com/MrWong99/tabcaption/internal/browser"
	"github.com/MrWong99/tabcaption/internal/config"
	"github.com/MrWong99/tabcaption/internal/credstore"
	"github.com/MrWong99/tabcaption/internal/overlay"
	"github.com/MrWong99/tabcaption/pkg/audio"
	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// SourceConfig marks a key taken from transcription.api_key.
const SourceConfig credstore.Source = "config"

// credentials resolves the API key: a stored key, then the environment,
// then the static config value.
type credentials struct {
	store  *credstore.Store
	static string
}

var _ overlay.CredentialSource = (*credentials)(nil)

func (c *credentials) APIKey(ctx context.Context) (string, error) {
	key, err := c.store.APIKey(ctx)
	if errors.Is(err, stt.ErrNoCredential) && c.static != "" {
		return c.static, nil
	}
	return key, err
}

func (c *credentials) Source(ctx context.Context) (credstore.Source, error) {
	src, err := c.store.Source(ctx)
	if err == nil && src == credstore.SourceNone && c.static != "" {
		return SourceConfig, nil
	}
	return src, err
}

// hostConfig overlays the non-zero capture settings on the host defaults.
func hostConfig(c config.CaptureConfig) audiohost.Config {
	cfg := audiohost.DefaultConfig()
	if c.SampleRate > 0 {
		cfg.SampleRate = c.SampleRate
	}
	if c.FrameSize > 0 {
		cfg.FrameSize = c.FrameSize
	}
	if c.Tick > 0 {
		cfg.Tick = c.Tick
	}
	if c.Gain > 0 {
		cfg.Gain = c.Gain
	}
	if c.SilenceThreshold > 0 {
		cfg.SilenceThreshold = c.SilenceThreshold
	}
	if c.SilenceFrames > 0 {
		cfg.SilenceFrames = c.SilenceFrames
	}
	if c.ForwardEvery > 0 {
		cfg.ForwardEvery = c.ForwardEvery
	}
	if c.VisualizationFPS > 0 {
		cfg.VisualizationInterval = time.Second / time.Duration(c.VisualizationFPS)
	}
	if c.FFTSize > 0 {
		cfg.FFTSize = c.FFTSize
	}
	if c.QueueFrames > 0 {
		cfg.QueueFrames = c.QueueFrames
	}
	if c.StatsInterval > 0 {
		cfg.StatsInterval = c.StatsInterval
	}
	cfg.KeepAliveProbability = c.KeepAliveProbability
	return cfg
}

// overlayConfig overlays the non-zero transcription and caption settings on
// the overlay defaults.
func overlayConfig(c *config.Config) overlay.Config {
	cfg := overlay.DefaultConfig()
	t, cc := c.Transcription, c.Caption
	if c.Capture.SampleRate > 0 {
		cfg.SampleRate = c.Capture.SampleRate
	}
	if t.Language != "" {
		cfg.Language = t.Language
	}
	if t.OperatingPoint != "" {
		cfg.OperatingPoint = string(t.OperatingPoint)
	}
	if t.StartTimeout > 0 {
		cfg.StartTimeout = t.StartTimeout
	}
	if t.StopTimeout > 0 {
		cfg.StopTimeout = t.StopTimeout
	}
	if t.PaddingFrames > 0 {
		cfg.PaddingFrames = t.PaddingFrames
	}
	if t.PaddingSamples > 0 {
		cfg.PaddingSamples = t.PaddingSamples
	}
	if t.PaddingDelay > 0 {
		cfg.PaddingDelay = t.PaddingDelay
	}
	if cc.Words > 0 {
		cfg.Words = cc.Words
	}
	if cc.Debounce > 0 {
		cfg.Debounce = cc.Debounce
	}
	if cc.WarningAfter > 0 {
		cfg.WarningAfter = cc.WarningAfter
	}
	if cc.ErrorAfter > 0 {
		cfg.ErrorAfter = cc.ErrorAfter
	}
	if cc.MonitorInterval > 0 {
		cfg.MonitorInterval = cc.MonitorInterval
	}
	return cfg
}

// tabConfig registers a configured tab with its audio source.
func tabConfig(tc config.TabConfig, sampleRate int) browser.TabConfig {
	out := browser.TabConfig{
		Tab:           browser.Tab{ID: tc.ID, Title: tc.Title, URL: tc.URL},
		DenyCapture:   tc.DenyCapture,
		DenyScripting: tc.DenyScripting,
	}
	src := tc.Source
	switch src.Kind {
	case config.SourceTone:
		out.Open = func() (audio.Stream, error) {
			tone := &audio.ToneReader{Freq: src.Freq, Amplitude: src.Amplitude, SampleRate: sampleRate}
			return audio.NewReaderStream(tone, sampleRate), nil
		}
	case config.SourceFile:
		out.Open = func() (audio.Stream, error) {
			f, err := os.Open(src.Path)
			if err != nil {
				return nil, fmt.Errorf("app: open tab %d audio: %w", tc.ID, err)
			}
			opts := []audio.ReaderOption{}
			if src.Loop {
				opts = append(opts, audio.WithLoop(f))
			}
			return &fileStream{ReaderStream: audio.NewReaderStream(f, sampleRate, opts...), f: f}, nil
		}
	}
	return out
}

// fileStream closes its file once the stream stops.
type fileStream struct {
	*audio.ReaderStream
	f *os.File
}

func (s *fileStream) Stop() error {
	err := s.ReaderStream.Stop()
	if cerr := s.f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}
