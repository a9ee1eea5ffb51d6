package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptionChanged is set when any caption setting changed. New overlays
	// pick up NewCaption.
	CaptionChanged bool
	NewCaption     CaptionConfig

	// RecognitionChanged is set when the language or operating point
	// changed. It applies to sessions started afterwards.
	RecognitionChanged bool

	// RestartRequired lists changed sections that only apply after a
	// restart.
	RestartRequired []string
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.CaptionChanged && !d.RecognitionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Caption != new.Caption {
		d.CaptionChanged = true
		d.NewCaption = new.Caption
	}

	ot, nt := old.Transcription, new.Transcription
	if ot.Language != nt.Language || ot.OperatingPoint != nt.OperatingPoint {
		d.RecognitionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !providerEqual(ot.ProviderEntry, nt.ProviderEntry) || ot.Breaker != nt.Breaker {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if old.Credentials != new.Credentials {
		d.RestartRequired = append(d.RestartRequired, "credentials")
	}
	if !tabsEqual(old.Tabs, new.Tabs) {
		d.RestartRequired = append(d.RestartRequired, "tabs")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// providerEntry comparison ignores Options, which is not comparable.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.AuthURL == b.AuthURL && a.TokenTTL == b.TokenTTL
}

func tabsEqual(a, b []TabConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
