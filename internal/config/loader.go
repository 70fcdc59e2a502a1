package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicechat/internal/account"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio", "wsstream", "pcmstream"},
	"stt":   {"backend", "whisper", "whisper-native", "deepgram", "openai", "groq"},
	"chat":  {"backend", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":   {"backend", "elevenlabs"},
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NeedsBackend reports whether any configured stage talks to the voice API
// backend.
func (cfg *Config) NeedsBackend() bool {
	return cfg.Providers.STT.IsBackend() ||
		cfg.Chat.Provider.IsBackend() ||
		(cfg.Synthesize.Enabled && cfg.Synthesize.Provider.IsBackend())
}

// AccountEnabled reports whether a login identity is configured.
func (cfg *Config) AccountEnabled() bool {
	return cfg.Account.GoogleID != "" || cfg.Account.Email != ""
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

	// Backend
	if cfg.NeedsBackend() {
		if cfg.API.BaseURL == "" {
			errs = append(errs, errors.New("api.base_url is required when a stage uses the backend provider"))
		} else if err := checkHTTPURL(cfg.API.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("api.base_url: %w", err))
		}
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout %s must not be negative", cfg.API.Timeout))
	}

	// Account
	if cfg.AccountEnabled() {
		if cfg.Account.GoogleID == "" || cfg.Account.Email == "" {
			errs = append(errs, errors.New("account.google_id and account.email must be set together"))
		}
		if cfg.Account.BaseURL == "" && cfg.API.BaseURL == "" {
			errs = append(errs, errors.New("account.base_url (or api.base_url) is required when an account identity is set"))
		}
	}
	if cfg.Account.BaseURL != "" {
		if err := checkHTTPURL(cfg.Account.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("account.base_url: %w", err))
		}
	}
	if cfg.Account.Plan != "" {
		if _, ok := account.LookupPlan(cfg.Account.Plan); !ok {
			errs = append(errs, fmt.Errorf("account.plan %q is invalid; valid values: free, pro, business", cfg.Account.Plan))
		}
	}
	if !cfg.AccountEnabled() && cfg.API.UserID == "" {
		slog.Warn("neither account identity nor api.user_id is set; requests will carry an empty user id")
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("capture.block_size %d must not be negative", cfg.Capture.BlockSize))
	}

	// VAD
	if t := cfg.VAD.SilenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.4f is out of range [0, 1]", t))
	}
	if cfg.VAD.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration %s must not be negative", cfg.VAD.SilenceDuration))
	}

	// Providers
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	primary := cfg.Providers.STT.Name
	if primary == "" {
		primary = BackendProvider
	}
	seen := map[string]bool{primary: true}
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if seen[fb.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is already configured; a fallback must be a different provider", prefix, fb.Name))
		}
		seen[fb.Name] = true
		validateProviderName("stt", fb.Name)
	}

	// Chat
	validateProviderName("chat", cfg.Chat.Provider.Name)
	if !cfg.Chat.Provider.IsBackend() && cfg.Chat.Provider.Model == "" {
		errs = append(errs, fmt.Errorf("chat.provider.model is required for provider %q", cfg.Chat.Provider.Name))
	}
	if cfg.Chat.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("chat.max_turns %d must not be negative", cfg.Chat.MaxTurns))
	}
	if !cfg.Chat.Provider.IsBackend() && cfg.AccountEnabled() {
		slog.Warn("chat runs on a local agent; the account quota is checked but never decremented")
	}

	// Synthesis
	if cfg.Synthesize.Enabled {
		validateProviderName("tts", cfg.Synthesize.Provider.Name)
		if cfg.Synthesize.OutputDir == "" {
			errs = append(errs, errors.New("synthesize.output_dir is required when synthesis is enabled"))
		}
		if cfg.Synthesize.Provider.Name == "elevenlabs" && cfg.Synthesize.Provider.APIKey == "" {
			errs = append(errs, errors.New("synthesize.provider.api_key is required for elevenlabs"))
		}
	}

	// History
	switch cfg.History.Driver {
	case "":
	case HistoryFile:
		if cfg.History.Path == "" {
			errs = append(errs, errors.New("history.path is required for the file driver"))
		}
	case HistoryPostgres:
		if cfg.History.DSN == "" {
			errs = append(errs, errors.New("history.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.driver %q is invalid; valid values: file, postgres", cfg.History.Driver))
	}

	return errors.Join(errs...)
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
