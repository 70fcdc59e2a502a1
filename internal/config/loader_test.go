package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voicechat/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\napi:\n  base_url: http://x\n",
			want: "server.log_level",
		},
		{
			name: "backend without base url",
			yaml: "vad:\n  silence_threshold: 0.01\n",
			want: "api.base_url is required",
		},
		{
			name: "base url scheme",
			yaml: "api:\n  base_url: ftp://x\n",
			want: "http or https",
		},
		{
			name: "threshold out of range",
			yaml: "api:\n  base_url: http://x\nvad:\n  silence_threshold: 1.5\n",
			want: "vad.silence_threshold",
		},
		{
			name: "negative duration",
			yaml: "api:\n  base_url: http://x\nvad:\n  silence_duration: -1s\n",
			want: "vad.silence_duration",
		},
		{
			name: "negative block size",
			yaml: "api:\n  base_url: http://x\ncapture:\n  block_size: -1\n",
			want: "capture.block_size",
		},
		{
			name: "half identity",
			yaml: "api:\n  base_url: http://x\naccount:\n  email: a@b.c\n",
			want: "must be set together",
		},
		{
			name: "unknown plan",
			yaml: "api:\n  base_url: http://x\naccount:\n  plan: gold\n",
			want: "account.plan",
		},
		{
			name: "fallback repeats primary",
			yaml: "api:\n  base_url: http://x\nproviders:\n  stt:\n    name: groq\n  stt_fallbacks:\n    - name: groq\n",
			want: "different provider",
		},
		{
			name: "fallback without name",
			yaml: "api:\n  base_url: http://x\nproviders:\n  stt_fallbacks:\n    - model: x\n",
			want: "stt_fallbacks[0].name is required",
		},
		{
			name: "local chat without model",
			yaml: "api:\n  base_url: http://x\nchat:\n  provider:\n    name: ollama\n",
			want: "chat.provider.model",
		},
		{
			name: "synthesis without output dir",
			yaml: "api:\n  base_url: http://x\nsynthesize:\n  enabled: true\n",
			want: "synthesize.output_dir",
		},
		{
			name: "elevenlabs without key",
			yaml: "api:\n  base_url: http://x\nsynthesize:\n  enabled: true\n  output_dir: out\n  provider:\n    name: elevenlabs\n",
			want: "api_key is required for elevenlabs",
		},
		{
			name: "file history without path",
			yaml: "api:\n  base_url: http://x\nhistory:\n  driver: file\n",
			want: "history.path",
		},
		{
			name: "postgres history without dsn",
			yaml: "api:\n  base_url: http://x\nhistory:\n  driver: postgres\n",
			want: "history.dsn",
		},
		{
			name: "unknown history driver",
			yaml: "api:\n  base_url: http://x\nhistory:\n  driver: redis\n",
			want: "history.driver",
		},
		{
			name: "tls missing key",
			yaml: "api:\n  base_url: http://x\nserver:\n  tls:\n    cert_file: c.pem\n",
			want: "server.tls",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_FullyLocalNeedsNoBackend(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  audio:
    name: pcmstream
  stt:
    name: whisper
    base_url: http://localhost:8081
chat:
  provider:
    name: ollama
    model: llama3.2
`
	cfg := mustLoad(t, yaml)
	if cfg.NeedsBackend() {
		t.Error("NeedsBackend() = true for a fully local config")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
vad:
  silence_threshold: 2
history:
  driver: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "api.base_url", "vad.silence_threshold", "history.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
api:
  base_url: http://x
providers:
  audio:
    name: my-custom-mic
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider name should only warn, got %v", err)
	}
}
