package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicechat/internal/agent"
	"github.com/MrWong99/voicechat/internal/app"
	"github.com/MrWong99/voicechat/internal/config"
	"github.com/MrWong99/voicechat/internal/observe"
	"github.com/MrWong99/voicechat/internal/resilience"
	"github.com/MrWong99/voicechat/internal/voiceapi"
	"github.com/MrWong99/voicechat/pkg/audio"
	"github.com/MrWong99/voicechat/pkg/audio/pcmstream"
	"github.com/MrWong99/voicechat/pkg/audio/portaudio"
	"github.com/MrWong99/voicechat/pkg/audio/wsstream"
	"github.com/MrWong99/voicechat/pkg/provider/llm"
	"github.com/MrWong99/voicechat/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/voicechat/pkg/provider/llm/openai"
	"github.com/MrWong99/voicechat/pkg/provider/stt"
	"github.com/MrWong99/voicechat/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/voicechat/pkg/provider/stt/openai"
	"github.com/MrWong99/voicechat/pkg/provider/stt/whisper"
	"github.com/MrWong99/voicechat/pkg/provider/tts"
	"github.com/MrWong99/voicechat/pkg/provider/tts/elevenlabs"
)

// defaultAudioSource is used when providers.audio is not configured.
const defaultAudioSource = "portaudio"

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry, _ config.CaptureConfig) (audio.Source, error) {
		var opts []portaudio.Option
		if dev := optString(entry.Options, "device"); dev != "" {
			opts = append(opts, portaudio.WithDevice(dev))
		}
		return portaudio.New(opts...), nil
	})

	reg.RegisterAudio("wsstream", func(entry config.ProviderEntry, _ config.CaptureConfig) (audio.Source, error) {
		var opts []wsstream.Option
		if entry.APIKey != "" {
			opts = append(opts, wsstream.WithToken(entry.APIKey))
		}
		if hz := optInt(entry.Options, "input_rate"); hz > 0 {
			opts = append(opts, wsstream.WithInputRate(hz))
		}
		return wsstream.New(entry.BaseURL, opts...)
	})

	reg.RegisterAudio("pcmstream", func(entry config.ProviderEntry, _ config.CaptureConfig) (audio.Source, error) {
		var opts []pcmstream.Option
		if path := optString(entry.Options, "file"); path != "" {
			opts = append(opts, pcmstream.WithFile(path))
		}
		if cmd := optString(entry.Options, "command"); cmd != "" {
			opts = append(opts, pcmstream.WithCommand(cmd, optStrings(entry.Options, "args")...))
		}
		if n := optInt(entry.Options, "channels"); n > 0 {
			opts = append(opts, pcmstream.WithChannels(n))
		}
		if hz := optInt(entry.Options, "input_rate"); hz > 0 {
			opts = append(opts, pcmstream.WithInputRate(hz))
		}
		return pcmstream.New(opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(prompt))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttopenai.New(entry.APIKey, entry.Model, sttOpenAIOptions(entry)...)
	})

	reg.RegisterSTT("groq", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttopenai.NewGroq(entry.APIKey, entry.Model, sttOpenAIOptions(entry)...)
	})

	// ── LLM (local agent) ─────────────────────────────────────────────────────

	// openai goes through the official SDK; the others share any-llm-go's
	// optional APIKey + BaseURL pattern.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range anyllm.Supported {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		return newElevenLabs(entry)
	})

	for _, kind := range []string{"audio", "stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func sttOpenAIOptions(entry config.ProviderEntry) []sttopenai.Option {
	var opts []sttopenai.Option
	if entry.BaseURL != "" {
		opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
	}
	if d := optDuration(entry.Options, "timeout"); d > 0 {
		opts = append(opts, sttopenai.WithTimeout(d))
	}
	return opts
}

func newElevenLabs(entry config.ProviderEntry) (*elevenlabs.Provider, error) {
	var opts []elevenlabs.Option
	if entry.Model != "" {
		opts = append(opts, elevenlabs.WithModel(entry.Model))
	}
	if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
		opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
	}
	if entry.BaseURL != "" {
		opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
	}
	stability, okS := optFloat(entry.Options, "stability")
	similarity, okB := optFloat(entry.Options, "similarity_boost")
	if okS || okB {
		vs := elevenlabs.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
		if okS {
			vs.Stability = stability
		}
		if okB {
			vs.SimilarityBoost = similarity
		}
		opts = append(opts, elevenlabs.WithVoiceSettings(vs))
	}
	return elevenlabs.New(entry.APIKey, opts...)
}

// built is the result of buildProviders.
type built struct {
	providers *app.Providers
	breakers  []*resilience.CircuitBreaker
	closers   []func() error
}

// buildProviders instantiates all providers named in cfg. client is the
// voice API client used for every stage set to the backend provider; it may
// be nil when no stage needs it.
func buildProviders(cfg *config.Config, reg *config.Registry, client *voiceapi.Client, m *observe.Metrics) (*built, error) {
	b := &built{providers: &app.Providers{}}

	// ── Audio ──
	audioEntry := cfg.Providers.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = defaultAudioSource
	}
	src, err := reg.CreateAudio(audioEntry, cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("create audio source %q: %w", audioEntry.Name, err)
	}
	b.providers.Audio = src
	slog.Info("provider created", "kind", "audio", "name", audioEntry.Name)

	// ── STT with fallbacks ──
	primary, primaryName, err := b.createSTT(cfg.Providers.STT, reg, client)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.STTFallbacks) == 0 {
		b.providers.STT = primary
	} else {
		fb := resilience.NewSTTFallback(primary, primaryName, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("transcriber circuit changed", "provider", name, "from", from, "to", to)
					m.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
			OnFailure: func(name string, err error) {
				slog.Warn("transcriber failed, trying next", "provider", name, "err", err)
				m.RecordProviderError(context.Background(), name, "stt")
			},
		})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, name, err := b.createSTT(entry, reg, client)
			if err != nil {
				return nil, err
			}
			fb.AddFallback(name, p)
		}
		for _, name := range fb.Names() {
			b.breakers = append(b.breakers, fb.Breaker(name))
		}
		b.providers.STT = fb
	}

	// ── Chat ──
	if cfg.Chat.Provider.IsBackend() {
		b.providers.Chat = client
		slog.Info("provider created", "kind", "chat", "name", config.BackendProvider)
	} else {
		p, err := reg.CreateLLM(cfg.Chat.Provider)
		if err != nil {
			return nil, fmt.Errorf("create chat provider %q: %w", cfg.Chat.Provider.Name, err)
		}
		ag, err := agent.New(p, agent.Config{
			SystemPrompt: cfg.Chat.SystemPrompt,
			MaxTurns:     cfg.Chat.MaxTurns,
			Timeout:      cfg.API.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create chat agent: %w", err)
		}
		b.providers.Chat = ag
		slog.Info("provider created", "kind", "chat", "name", cfg.Chat.Provider.Name, "model", cfg.Chat.Provider.Model)
	}

	// ── TTS ──
	if cfg.Synthesize.Enabled {
		if cfg.Synthesize.Provider.IsBackend() {
			b.providers.TTS = client
		} else {
			p, err := reg.CreateTTS(cfg.Synthesize.Provider)
			if err != nil {
				return nil, fmt.Errorf("create tts provider %q: %w", cfg.Synthesize.Provider.Name, err)
			}
			b.providers.TTS = p
		}
		slog.Info("provider created", "kind", "tts", "name", nameOrBackend(cfg.Synthesize.Provider.Name))
	}

	return b, nil
}

// createSTT builds one transcriber and remembers its closer.
func (b *built) createSTT(entry config.ProviderEntry, reg *config.Registry, client *voiceapi.Client) (stt.Provider, string, error) {
	if entry.IsBackend() {
		if client == nil {
			return nil, "", errors.New("stt provider backend needs api.base_url")
		}
		return client, config.BackendProvider, nil
	}
	p, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, "", fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	if c, ok := p.(io.Closer); ok {
		b.closers = append(b.closers, c.Close)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	return p, entry.Name, nil
}

func nameOrBackend(name string) string {
	if name == "" {
		return config.BackendProvider
	}
	return name
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes plain numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a number and reports whether it was set.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optStrings extracts a list of strings, skipping non-string items.
func optStrings(opts map[string]any, key string) []string {
	items, _ := opts[key].([]any)
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optDuration parses a duration option such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
