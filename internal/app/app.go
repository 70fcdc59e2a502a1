// Package app wires the voicechat subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run listens until the context ends or the microphone is lost,
// and Shutdown tears everything down in order. [VoiceChat] is the capture
// session orchestrator underneath.
//
// For testing, inject mock implementations via [Providers] and functional
// options (WithHistory, WithQuota, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/voicechat/internal/config"
	"github.com/MrWong99/voicechat/internal/history"
	"github.com/MrWong99/voicechat/internal/history/postgres"
	"github.com/MrWong99/voicechat/internal/observe"
	"github.com/MrWong99/voicechat/internal/vad"
	"github.com/MrWong99/voicechat/internal/voiceapi"
	"github.com/MrWong99/voicechat/internal/waveform"
	"github.com/MrWong99/voicechat/pkg/audio"
	"github.com/MrWong99/voicechat/pkg/provider/stt"
	"github.com/MrWong99/voicechat/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Audio, STT and
// Chat are required; a nil TTS disables synthesis. Populated by main.go via
// the config registry.
type Providers struct {
	Audio audio.Source
	STT   stt.Provider
	Chat  voiceapi.Chatter
	TTS   tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	userID  string
	quota   Quota
	history history.Store
	hub     *waveform.Hub
	sinks   *waveform.Multi
	out     io.Writer
	voice   *VoiceChat

	// closers are called in order during Shutdown.
	closers []func() error

	// endErr is the error the last session ended with.
	endMu  sync.Mutex
	endErr error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistory injects a history store instead of creating one from config.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithQuota sets the quota gate, normally an [*account.QuotaCache].
func WithQuota(q Quota) Option {
	return func(a *App) { a.quota = q }
}

// WithUserID overrides api.user_id, e.g. with the id returned by login.
func WithUserID(id string) Option {
	return func(a *App) { a.userID = id }
}

// WithOutput sets where transcripts and replies are printed. Default: stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSink adds a waveform sink next to the WebSocket hub and the meter.
func WithSink(s waveform.Sink) Option {
	return func(a *App) { a.sinks.Add(s) }
}

// WithCloser registers fn to run during Shutdown, e.g. to release a
// provider's native resources.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		userID:    cfg.API.UserID,
		sinks:     waveform.NewMulti(),
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Waveform sinks ────────────────────────────────────────────────
	a.hub = waveform.NewHub(
		waveform.WithOriginPatterns(cfg.Waveform.OriginPatterns...),
		waveform.WithMetrics(a.metrics),
	)
	a.sinks.Add(a.hub)
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })
	if cfg.Waveform.Meter {
		a.sinks.Add(waveform.NewMeter(os.Stderr))
	}

	// ── 3. Capture session orchestrator ─────────────────────────────────
	vcCfg := VoiceChatConfig{
		Source:      providers.Audio,
		Transcriber: providers.STT,
		Chat:        providers.Chat,
		Quota:       a.quota,
		History:     a.history,
		Sink:        a.sinks,
		Metrics:     a.metrics,
		Capture:     audio.CaptureConfig{SampleRate: cfg.Capture.SampleRate, BlockSize: cfg.Capture.BlockSize},
		VAD:         vadConfig(cfg.VAD),
		UserID:      a.userID,
		Language:    optLanguage(cfg.Providers.STT.Options),
		OnEvent:     a.printEvent,
	}
	if cfg.Synthesize.Enabled && providers.TTS != nil {
		vcCfg.Synthesizer = providers.TTS
		vcCfg.VoiceID = cfg.Synthesize.VoiceID
		vcCfg.OutputDir = cfg.Synthesize.OutputDir
	}
	vc, err := NewVoiceChat(vcCfg)
	if err != nil {
		return nil, err
	}
	a.voice = vc

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the configured exchange store unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	store, err := OpenHistory(ctx, a.cfg.History)
	if err != nil || store == nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, a.history.Close)
	return nil
}

// OpenHistory opens the store selected by hc. It returns nil, nil when
// history is disabled. The caller closes the store.
func OpenHistory(ctx context.Context, hc config.HistoryConfig) (history.Store, error) {
	switch hc.Driver {
	case "":
		return nil, nil
	case config.HistoryFile:
		slog.Info("history enabled", "driver", "file", "path", hc.Path)
		return history.NewFileStore(hc.Path), nil
	case config.HistoryPostgres:
		store, err := postgres.New(ctx, hc.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("history enabled", "driver", "postgres")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", hc.Driver)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// VoiceChat returns the capture session orchestrator.
func (a *App) VoiceChat() *VoiceChat { return a.voice }

// Waveform returns the WebSocket hub for mounting on the admin server.
func (a *App) Waveform() *waveform.Hub { return a.hub }

// History returns the exchange store, or nil when history is disabled.
func (a *App) History() history.Store { return a.history }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening and blocks until ctx is cancelled or the session ends
// on its own. It returns ctx.Err() after a cancellation, and the capture
// error when the microphone was lost.
func (a *App) Run(ctx context.Context) error {
	info, err := a.voice.StartListening(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "%s\n", UserMessage(err))
		return err
	}
	fmt.Fprintln(a.out, "Listening... speak to chat, Ctrl+C to stop.")
	slog.Info("app running", "session_id", info.SessionID, "user_id", info.UserID)

	select {
	case <-ctx.Done():
		if err := a.voice.StopListening(); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("stop listening", "err", err)
		}
		return ctx.Err()
	case <-a.voice.Done():
		return a.lastSessionErr()
	}
}

func (a *App) lastSessionErr() error {
	a.endMu.Lock()
	defer a.endMu.Unlock()
	return a.endErr
}

// Reload applies the hot-reloadable part of a config change.
func (a *App) Reload(d config.ConfigDiff) {
	if d.VADChanged {
		a.voice.SetVADConfig(vadConfig(d.NewVAD))
		slog.Info("vad thresholds updated; applies to the next session",
			"silence_threshold", d.NewVAD.SilenceThreshold,
			"silence_duration", d.NewVAD.SilenceDuration,
		)
	}
	if d.VoiceChanged {
		a.voice.SetVoiceID(d.NewVoiceID)
		slog.Info("synthesis voice updated", "voice_id", d.NewVoiceID)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// printEvent renders session events for the terminal user.
func (a *App) printEvent(ev Event) {
	switch ev.Type {
	case EventStatus:
		slog.Debug("status", "session_id", ev.SessionID, "status", ev.Status)
	case EventTranscript:
		fmt.Fprintf(a.out, "You: %s\n", ev.Text)
	case EventReply:
		fmt.Fprintf(a.out, "Assistant: %s\n", ev.Text)
		if ev.RemainingKnown {
			fmt.Fprintf(a.out, "(%d responses left)\n", ev.Remaining)
		}
	case EventAudio:
		fmt.Fprintf(a.out, "(reply audio: %s)\n", ev.AudioPath)
	case EventError:
		fmt.Fprintf(a.out, "%s\n", ev.Message)
	case EventSessionEnded:
		a.endMu.Lock()
		a.endErr = ev.Err
		a.endMu.Unlock()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any capture session and runs the closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.voice.StopListening(); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("stop listening", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func vadConfig(c config.VADConfig) vad.Config {
	return vad.Config{SilenceThreshold: c.SilenceThreshold, SilenceDuration: c.SilenceDuration}
}

// optLanguage extracts the "language" option of the transcriber entry.
func optLanguage(opts map[string]any) string {
	s, _ := opts["language"].(string)
	return s
}
