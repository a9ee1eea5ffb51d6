// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for tabcaption.
//
// Numeric and duration fields left at zero keep the defaults of the
// package they configure (audiohost, overlay, caption); [ApplyDefaults]
// only fills the server and credential settings.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OperatingPoint selects the recognition model's accuracy/latency trade-off.
type OperatingPoint string

const (
	OperatingPointStandard OperatingPoint = "standard"
	OperatingPointEnhanced OperatingPoint = "enhanced"
)

// IsValid reports whether o is a recognised operating point.
func (o OperatingPoint) IsValid() bool {
	return o == OperatingPointStandard || o == OperatingPointEnhanced
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Caption       CaptionConfig       `yaml:"caption"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	TUI           TUIConfig           `yaml:"tui"`
	Tabs          []TabConfig         `yaml:"tabs"`
}

// ServerConfig holds the control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., "127.0.0.1:8787").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the control API. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CaptureConfig tunes the audio host.
type CaptureConfig struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per raw frame.
	FrameSize int `yaml:"frame_size"`

	// Tick is the raw-sample loop period.
	Tick time.Duration `yaml:"tick"`

	// Gain multiplies every sample before clamping to [-1, 1].
	Gain float64 `yaml:"gain"`

	// SilenceThreshold is the absolute amplitude at or below which a sample
	// counts as silent.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceFrames silent frames are forwarded before degrading.
	SilenceFrames int `yaml:"silence_frames"`

	// ForwardEvery is the degraded forwarding stride.
	ForwardEvery int `yaml:"forward_every"`

	// KeepAliveProbability forwards extra silent frames at random.
	KeepAliveProbability float64 `yaml:"keepalive_probability"`

	// VisualizationFPS is the level update rate.
	VisualizationFPS int `yaml:"visualization_fps"`

	// FFTSize is the analyser window length; a power of two.
	FFTSize int `yaml:"fft_size"`

	// QueueFrames bounds buffered capture audio, in frames.
	QueueFrames int `yaml:"queue_frames"`

	// StatsInterval is the period of the audio statistics log line.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// TranscriptionConfig selects and tunes the real-time transcription provider.
type TranscriptionConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is the recognition language code (e.g., "en").
	Language string `yaml:"language"`

	// OperatingPoint selects the recognition model.
	OperatingPoint OperatingPoint `yaml:"operating_point"`

	// StartTimeout bounds token exchange plus session start.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// StopTimeout bounds the end-of-transcript wait.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// PaddingFrames silent frames of PaddingSamples are sent before ending
	// a session, followed by PaddingDelay.
	PaddingFrames  int           `yaml:"padding_frames"`
	PaddingSamples int           `yaml:"padding_samples"`
	PaddingDelay   time.Duration `yaml:"padding_delay"`

	// Breaker guards the token exchange endpoint.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry is the configuration block shared by provider
// implementations. Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "speechmatics").
	Name string `yaml:"name"`

	// APIKey is a static API key. The credential store and environment are
	// consulted when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the streaming endpoint.
	BaseURL string `yaml:"base_url"`

	// AuthURL overrides the token exchange endpoint.
	AuthURL string `yaml:"auth_url"`

	// TokenTTL is the requested lifetime of short-lived tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes a circuit breaker. Zero values keep the defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// CaptionConfig shapes captions and the stall indicator.
type CaptionConfig struct {
	// Words is the number of trailing words shown.
	Words int `yaml:"words"`

	// Debounce is the minimum time between caption changes.
	Debounce time.Duration `yaml:"debounce"`

	// WarningAfter and ErrorAfter are the stall thresholds.
	WarningAfter time.Duration `yaml:"warning_after"`
	ErrorAfter   time.Duration `yaml:"error_after"`

	// MonitorInterval is the stall check period.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// CredentialsConfig locates the API key.
type CredentialsConfig struct {
	// DBPath is the SQLite credential store.
	DBPath string `yaml:"db_path"`

	// EnvFile is a .env file loaded at startup. Missing files are ignored.
	EnvFile string `yaml:"env_file"`

	// EnvVar is the environment fallback for the API key.
	EnvVar string `yaml:"env_var"`
}

// TUIConfig controls the terminal renderer.
type TUIConfig struct {
	Enabled bool `yaml:"enabled"`

	// TabID is the tab whose overlay is rendered. Zero picks the first tab.
	TabID int `yaml:"tab_id"`
}

// SourceKind selects how a tab produces audio.
type SourceKind string

const (
	// SourceFile streams raw pcm_f32le from a file.
	SourceFile SourceKind = "file"

	// SourceTone generates a sine tone; amplitude 0 is digital silence.
	SourceTone SourceKind = "tone"

	// SourceNone makes the tab silent to capture (no audio track).
	SourceNone SourceKind = "none"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceFile, SourceTone, SourceNone:
		return true
	}
	return false
}

// TabConfig registers a browser tab with the local runtime.
type TabConfig struct {
	ID    int    `yaml:"id"`
	Title string `yaml:"title"`
	URL   string `yaml:"url"`

	Source AudioSource `yaml:"source"`

	// DenyCapture and DenyScripting simulate refused permissions.
	DenyCapture   bool `yaml:"deny_capture"`
	DenyScripting bool `yaml:"deny_scripting"`
}

// AudioSource describes a tab's audio.
type AudioSource struct {
	Kind SourceKind `yaml:"kind"`

	// Path is the pcm_f32le file for SourceFile.
	Path string `yaml:"path"`

	// Loop restarts the file at EOF.
	Loop bool `yaml:"loop"`

	// Freq and Amplitude shape SourceTone.
	Freq      float64 `yaml:"freq"`
	Amplitude float64 `yaml:"amplitude"`
}
