package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voicechat/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9090", LogLevel: config.LogInfo},
		API:    config.APIConfig{BaseURL: "http://x"},
		VAD:    config.VADConfig{SilenceThreshold: 0.01, SilenceDuration: 4 * time.Second},
		Providers: config.ProvidersConfig{
			STT:          config.ProviderEntry{Name: "groq", Model: "whisper-large-v3"},
			STTFallbacks: []config.ProviderEntry{{Name: "backend"}},
		},
		Synthesize: config.SynthesizeConfig{Enabled: true, VoiceID: "a", OutputDir: "out"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level should not need a restart: %v", d.RestartRequired)
	}
}

func TestDiff_VAD(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.VAD.SilenceDuration = 2 * time.Second

	d := config.Diff(baseConfig(), newCfg)
	if !d.VADChanged || d.NewVAD.SilenceDuration != 2*time.Second || d.NewVAD.SilenceThreshold != 0.01 {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_Voice(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Synthesize.VoiceID = "b"

	d := config.Diff(baseConfig(), newCfg)
	if !d.VoiceChanged || d.NewVoiceID != "b" {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server.listen_addr"},
		{"api", func(c *config.Config) { c.API.BaseURL = "http://y" }, "api"},
		{"capture", func(c *config.Config) { c.Capture.BlockSize = 1024 }, "capture"},
		{"stt model", func(c *config.Config) { c.Providers.STT.Model = "turbo" }, "providers"},
		{"fallback", func(c *config.Config) { c.Providers.STTFallbacks[0].Name = "openai" }, "providers"},
		{"chat", func(c *config.Config) { c.Chat.MaxTurns = 3 }, "chat"},
		{"synthesis dir", func(c *config.Config) { c.Synthesize.OutputDir = "x" }, "synthesize"},
		{"history", func(c *config.Config) { c.History.Driver = config.HistoryFile }, "history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			newCfg := baseConfig()
			tt.mutate(newCfg)
			d := config.Diff(baseConfig(), newCfg)
			if !slices.Contains(d.RestartRequired, tt.section) {
				t.Errorf("RestartRequired = %v, want %q", d.RestartRequired, tt.section)
			}
		})
	}
}
