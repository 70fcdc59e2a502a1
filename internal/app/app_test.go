package app_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicechat/internal/app"
	"github.com/MrWong99/voicechat/internal/config"
	"github.com/MrWong99/voicechat/internal/history"
	"github.com/MrWong99/voicechat/internal/voiceapi"
	voiceapimock "github.com/MrWong99/voicechat/internal/voiceapi/mock"
	"github.com/MrWong99/voicechat/internal/waveform"
	"github.com/MrWong99/voicechat/pkg/audio"
	audiomock "github.com/MrWong99/voicechat/pkg/audio/mock"
	sttmock "github.com/MrWong99/voicechat/pkg/provider/stt/mock"
	"github.com/MrWong99/voicechat/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicechat/pkg/provider/tts/mock"
)

// syncBuffer is a bytes.Buffer safe for the session goroutine to write to.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output never contained %q; got:\n%s", substr, b.String())
}

// testConfig returns a minimal config for tests.
func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		API:     config.APIConfig{BaseURL: "http://backend.test", UserID: "cfg-user"},
		Capture: config.CaptureConfig{SampleRate: testRate, BlockSize: testBlock},
	}
}

type appFixture struct {
	capture *audiomock.Capture
	source  *audiomock.Source
	stt     *sttmock.Provider
	chat    *voiceapimock.Chatter
	tts     *ttsmock.Provider
}

// testProviders returns mock providers for every slot.
func testProviders() (*app.Providers, *appFixture) {
	f := &appFixture{
		capture: audiomock.NewCapture(64),
		stt:     &sttmock.Provider{Text: "what time is it"},
		chat:    &voiceapimock.Chatter{Reply: voiceapi.ChatReply{Response: "noon", Remaining: 7, RemainingKnown: true}},
		tts:     &ttsmock.Provider{Audio: tts.Audio{Data: []byte("ID3"), ContentType: "audio/mpeg"}},
	}
	f.source = &audiomock.Source{OpenResult: f.capture}
	return &app.Providers{Audio: f.source, STT: f.stt, Chat: f.chat, TTS: f.tts}, f
}

func speakInto(t *testing.T, c *audiomock.Capture) {
	t.Helper()
	seq := 0
	for i := 0; i < 3; i++ {
		c.Send(block(seq, 0.3))
		seq++
	}
	for i := 0; i < 41; i++ {
		c.Send(block(seq, 0))
		seq++
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()

	a, err := app.New(context.Background(), testConfig(), providers)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if a.VoiceChat() == nil || a.Waveform() == nil {
		t.Fatal("New() left subsystems nil")
	}
	if a.History() != nil {
		t.Error("history should be disabled without a driver")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Error("expected error for nil providers")
	}
	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Error("expected error for empty providers")
	}
}

func TestNew_FileHistoryFromConfig(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	cfg := testConfig()
	cfg.History = config.HistoryConfig{Driver: config.HistoryFile, Path: filepath.Join(t.TempDir(), "h.jsonl")}

	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	fs, ok := a.History().(*history.FileStore)
	if !ok || fs.Path() != cfg.History.Path {
		t.Errorf("History() = %#v", a.History())
	}
}

func TestOpenHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := app.OpenHistory(ctx, config.HistoryConfig{})
	if err != nil || store != nil {
		t.Errorf("disabled: store=%v err=%v", store, err)
	}

	path := filepath.Join(t.TempDir(), "h.jsonl")
	store, err = app.OpenHistory(ctx, config.HistoryConfig{Driver: config.HistoryFile, Path: path})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if fs, ok := store.(*history.FileStore); !ok || fs.Path() != path {
		t.Errorf("file: store = %#v", store)
	}

	if _, err := app.OpenHistory(ctx, config.HistoryConfig{Driver: "sqlite"}); err == nil {
		t.Error("unknown driver: expected error")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestRun_ExchangePrintedAndRecorded(t *testing.T) {
	t.Parallel()
	providers, f := testProviders()
	cfg := testConfig()
	cfg.Synthesize = config.SynthesizeConfig{Enabled: true, VoiceID: "v1", OutputDir: t.TempDir()}
	store := history.NewFileStore(filepath.Join(t.TempDir(), "h.jsonl"))
	quota := &fakeQuota{}
	out := &syncBuffer{}
	var frames sync.WaitGroup
	frames.Add(1)
	var once sync.Once

	a, err := app.New(context.Background(), cfg, providers,
		app.WithHistory(store),
		app.WithQuota(quota),
		app.WithUserID("login-user"),
		app.WithOutput(out),
		app.WithSink(waveform.SinkFunc(func(waveform.Frame) { once.Do(frames.Done) })),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	out.waitFor(t, "Listening")
	speakInto(t, f.capture)
	out.waitFor(t, "You: what time is it")
	out.waitFor(t, "Assistant: noon")
	out.waitFor(t, "(7 responses left)")
	out.waitFor(t, "(reply audio: ")
	frames.Wait()

	if c := f.chat.Calls(); len(c) != 1 || c[0].UserID != "login-user" {
		t.Errorf("chat calls = %+v", c)
	}
	if n, ok := quota.lastUpdate(); !ok || n != 7 {
		t.Errorf("quota = %d, %v", n, ok)
	}
	if sc := f.tts.Calls(); len(sc) != 1 || sc[0].VoiceID != "v1" {
		t.Errorf("tts calls = %+v", sc)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !f.capture.IsClosed() {
		t.Error("capture not released")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_DeviceLost(t *testing.T) {
	t.Parallel()
	providers, f := testProviders()
	out := &syncBuffer{}
	a, err := app.New(context.Background(), testConfig(), providers, app.WithOutput(out))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(context.Background()) }()
	out.waitFor(t, "Listening")
	f.capture.End(audio.ErrDeviceUnavailable)

	select {
	case err := <-runErr:
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after device loss")
	}
	out.waitFor(t, "No microphone available.")
}

func TestRun_QuotaRefused(t *testing.T) {
	t.Parallel()
	providers, f := testProviders()
	out := &syncBuffer{}
	a, err := app.New(context.Background(), testConfig(), providers,
		app.WithOutput(out),
		app.WithQuota(&fakeQuota{checkErr: voiceapi.ErrQuotaExhausted}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.Run(context.Background()); !errors.Is(err, voiceapi.ErrQuotaExhausted) {
		t.Fatalf("Run = %v", err)
	}
	if f.source.CallCountOpen() != 0 {
		t.Error("microphone opened")
	}
	if !strings.Contains(out.String(), "No responses left") {
		t.Errorf("output = %q", out.String())
	}
}

// ─── Reload / Shutdown ───────────────────────────────────────────────────────

func TestReload_AppliesVADAndVoice(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(context.Background(), testConfig(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	a.Reload(config.ConfigDiff{
		VADChanged:   true,
		NewVAD:       config.VADConfig{SilenceThreshold: 0.05, SilenceDuration: 2 * time.Second},
		VoiceChanged: true,
		NewVoiceID:   "other",
	})
	got := a.VoiceChat().VADConfig()
	if got.SilenceThreshold != 0.05 || got.SilenceDuration != 2*time.Second {
		t.Errorf("VADConfig = %+v", got)
	}
	if a.VoiceChat().VoiceID() != "other" {
		t.Errorf("VoiceID = %q", a.VoiceChat().VoiceID())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(context.Background(), testConfig(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown #%d: %v", i, err)
		}
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(context.Background(), testConfig(), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}
