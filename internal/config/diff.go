package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is set when the silence threshold or duration changed. The
	// new values apply from the next capture session.
	VADChanged bool
	NewVAD     VADConfig

	// VoiceChanged is set when the synthesis voice changed.
	VoiceChanged bool
	NewVoiceID   string

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if old.Synthesize.VoiceID != new.Synthesize.VoiceID {
		d.VoiceChanged = true
		d.NewVoiceID = new.Synthesize.VoiceID
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.API != new.API {
		d.RestartRequired = append(d.RestartRequired, "api")
	}
	if old.Account != new.Account {
		d.RestartRequired = append(d.RestartRequired, "account")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !sameEntry(old.Providers.Audio, new.Providers.Audio) || !sameEntry(old.Providers.STT, new.Providers.STT) ||
		len(old.Providers.STTFallbacks) != len(new.Providers.STTFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	} else {
		for i := range old.Providers.STTFallbacks {
			if !sameEntry(old.Providers.STTFallbacks[i], new.Providers.STTFallbacks[i]) {
				d.RestartRequired = append(d.RestartRequired, "providers")
				break
			}
		}
	}
	if !sameEntry(old.Chat.Provider, new.Chat.Provider) || old.Chat.SystemPrompt != new.Chat.SystemPrompt || old.Chat.MaxTurns != new.Chat.MaxTurns {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}
	if old.Synthesize.Enabled != new.Synthesize.Enabled || old.Synthesize.OutputDir != new.Synthesize.OutputDir ||
		!sameEntry(old.Synthesize.Provider, new.Synthesize.Provider) {
		d.RestartRequired = append(d.RestartRequired, "synthesize")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}

	return d
}

// sameEntry compares the scalar fields of two entries. Options maps are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
