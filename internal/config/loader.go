package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the settings [ApplyDefaults] fills.
const (
	DefaultListenAddr = "127.0.0.1:8787"
	DefaultProvider   = "speechmatics"
	DefaultDBPath     = "tabcaption.sqlite"
	DefaultEnvFile    = ".env"
	DefaultEnvVar     = "SPEECHMATICS_API_KEY"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"speechmatics"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset server, provider and credential settings.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transcription.Name == "" {
		cfg.Transcription.Name = DefaultProvider
	}
	if cfg.Credentials.DBPath == "" {
		cfg.Credentials.DBPath = DefaultDBPath
	}
	if cfg.Credentials.EnvFile == "" {
		cfg.Credentials.EnvFile = DefaultEnvFile
	}
	if cfg.Credentials.EnvVar == "" {
		cfg.Credentials.EnvVar = DefaultEnvVar
	}
	if len(cfg.Tabs) == 0 {
		cfg.Tabs = []TabConfig{DefaultTab()}
	}
	for i := range cfg.Tabs {
		if cfg.Tabs[i].Source.Kind == "" {
			cfg.Tabs[i].Source.Kind = SourceTone
		}
	}
}

// DefaultTab is the tab registered when none is configured: a quiet
// 440 Hz tone.
func DefaultTab() TabConfig {
	return TabConfig{
		ID:     1,
		Title:  "Demo tab",
		URL:    "https://example.com/",
		Source: AudioSource{Kind: SourceTone, Freq: 440, Amplitude: 0.2},
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Capture
	c := cfg.Capture
	errs = appendNonNegative(errs, "capture.sample_rate", c.SampleRate)
	errs = appendNonNegative(errs, "capture.frame_size", c.FrameSize)
	errs = appendNonNegative(errs, "capture.silence_frames", c.SilenceFrames)
	errs = appendNonNegative(errs, "capture.forward_every", c.ForwardEvery)
	errs = appendNonNegative(errs, "capture.visualization_fps", c.VisualizationFPS)
	errs = appendNonNegative(errs, "capture.queue_frames", c.QueueFrames)
	errs = appendDuration(errs, "capture.tick", c.Tick)
	errs = appendDuration(errs, "capture.stats_interval", c.StatsInterval)
	if c.Gain < 0 {
		errs = append(errs, fmt.Errorf("capture.gain %.2f must not be negative", c.Gain))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %.3f is out of range [0, 1)", c.SilenceThreshold))
	}
	if c.KeepAliveProbability < 0 || c.KeepAliveProbability > 1 {
		errs = append(errs, fmt.Errorf("capture.keepalive_probability %.3f is out of range [0, 1]", c.KeepAliveProbability))
	}
	if c.FFTSize != 0 && (c.FFTSize < 32 || bits.OnesCount(uint(c.FFTSize)) != 1) {
		errs = append(errs, fmt.Errorf("capture.fft_size %d must be a power of two of at least 32", c.FFTSize))
	}

	// Transcription
	t := cfg.Transcription
	validateProviderName("transcription", t.Name)
	if t.OperatingPoint != "" && !t.OperatingPoint.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.operating_point %q is invalid; valid values: standard, enhanced", t.OperatingPoint))
	}
	errs = appendDuration(errs, "transcription.token_ttl", t.TokenTTL)
	errs = appendDuration(errs, "transcription.start_timeout", t.StartTimeout)
	errs = appendDuration(errs, "transcription.stop_timeout", t.StopTimeout)
	errs = appendDuration(errs, "transcription.padding_delay", t.PaddingDelay)
	errs = appendDuration(errs, "transcription.breaker.reset_timeout", t.Breaker.ResetTimeout)
	errs = appendNonNegative(errs, "transcription.padding_frames", t.PaddingFrames)
	errs = appendNonNegative(errs, "transcription.padding_samples", t.PaddingSamples)
	errs = appendNonNegative(errs, "transcription.breaker.max_failures", t.Breaker.MaxFailures)
	errs = appendNonNegative(errs, "transcription.breaker.half_open_max", t.Breaker.HalfOpenMax)
	if t.TokenTTL != 0 && t.TokenTTL < time.Second {
		errs = append(errs, fmt.Errorf("transcription.token_ttl %v must be at least 1s", t.TokenTTL))
	}

	// Caption
	cc := cfg.Caption
	errs = appendNonNegative(errs, "caption.words", cc.Words)
	errs = appendDuration(errs, "caption.debounce", cc.Debounce)
	errs = appendDuration(errs, "caption.warning_after", cc.WarningAfter)
	errs = appendDuration(errs, "caption.error_after", cc.ErrorAfter)
	errs = appendDuration(errs, "caption.monitor_interval", cc.MonitorInterval)
	if cc.WarningAfter > 0 && cc.ErrorAfter > 0 && cc.ErrorAfter <= cc.WarningAfter {
		errs = append(errs, fmt.Errorf("caption.error_after %v must exceed caption.warning_after %v", cc.ErrorAfter, cc.WarningAfter))
	}

	// Tabs
	seen := make(map[int]int, len(cfg.Tabs))
	for i, tab := range cfg.Tabs {
		prefix := fmt.Sprintf("tabs[%d]", i)
		if tab.ID <= 0 {
			errs = append(errs, fmt.Errorf("%s.id must be positive", prefix))
		} else {
			if prev, ok := seen[tab.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %d is a duplicate of tabs[%d]", prefix, tab.ID, prev))
			}
			seen[tab.ID] = i
		}
		if !tab.Source.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.source.kind %q is invalid; valid values: file, tone, none", prefix, tab.Source.Kind))
		}
		if tab.Source.Kind == SourceFile && tab.Source.Path == "" {
			errs = append(errs, fmt.Errorf("%s.source.path is required when kind is file", prefix))
		}
		if tab.Source.Amplitude < 0 || tab.Source.Amplitude > 1 {
			errs = append(errs, fmt.Errorf("%s.source.amplitude %.2f is out of range [0, 1]", prefix, tab.Source.Amplitude))
		}
	}
	if cfg.TUI.TabID != 0 {
		if _, ok := seen[cfg.TUI.TabID]; !ok {
			errs = append(errs, fmt.Errorf("tui.tab_id %d does not name a configured tab", cfg.TUI.TabID))
		}
	}

	return errors.Join(errs...)
}

func appendNonNegative(errs []error, field string, v int) []error {
	if v < 0 {
		return append(errs, fmt.Errorf("%s %d must not be negative", field, v))
	}
	return errs
}

func appendDuration(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %v must not be negative", field, d))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
