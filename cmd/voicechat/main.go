// Command voicechat listens on the microphone, sends each utterance to a
// transcription and chat backend, and prints the conversation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicechat/internal/account"
	"github.com/MrWong99/voicechat/internal/app"
	"github.com/MrWong99/voicechat/internal/config"
	"github.com/MrWong99/voicechat/internal/health"
	"github.com/MrWong99/voicechat/internal/history"
	"github.com/MrWong99/voicechat/internal/observe"
	"github.com/MrWong99/voicechat/internal/voiceapi"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showStatus := flag.Bool("status", false, "print the account quota and exit")
	selectPlan := flag.String("select-plan", "", "upgrade to the given plan (free, pro, business) and exit")
	listVoices := flag.Bool("list-voices", false, "list the ElevenLabs voices for synthesize.provider and exit")
	showHistory := flag.Int("history", 0, "print the last `n` recorded exchanges of the user and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicechat: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logLevel slog.LevelVar
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))

	slog.Info("voicechat starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicechat",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── One-shot commands ─────────────────────────────────────────────────────
	if *listVoices {
		return runListVoices(ctx, cfg)
	}

	// ── Account ───────────────────────────────────────────────────────────────
	var (
		quota  *account.QuotaCache
		userID = cfg.API.UserID
	)
	if cfg.AccountEnabled() {
		quota, userID, err = login(ctx, cfg, metrics)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicechat: %s\n", app.UserMessage(err))
			slog.Error("login failed", "err", err)
			return 1
		}
	} else if *showStatus || *selectPlan != "" {
		fmt.Fprintln(os.Stderr, "voicechat: account.google_id and account.email are required for -status and -select-plan")
		return 2
	}
	if *showStatus || *selectPlan != "" {
		return runAccountCommand(ctx, cfg, metrics, quota, *selectPlan)
	}
	if *showHistory > 0 {
		return runHistory(ctx, cfg, userID, *showHistory)
	}

	// ── Voice API backend ─────────────────────────────────────────────────────
	var client *voiceapi.Client
	if cfg.NeedsBackend() {
		opts := []voiceapi.Option{voiceapi.WithMetrics(metrics)}
		if cfg.API.Timeout > 0 {
			opts = append(opts, voiceapi.WithTimeout(cfg.API.Timeout))
		}
		client, err = voiceapi.New(cfg.API.BaseURL, opts...)
		if err != nil {
			slog.Error("failed to create backend client", "err", err)
			return 1
		}
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	b, err := buildProviders(cfg, reg, client, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	printStartupSummary(cfg, userID, quota)

	appOpts := []app.Option{app.WithUserID(userID), app.WithMetrics(metrics)}
	if quota != nil {
		appOpts = append(appOpts, app.WithQuota(quota))
	}
	for _, c := range b.closers {
		appOpts = append(appOpts, app.WithCloser(c))
	}
	application, err := app.New(ctx, cfg, b.providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Admin server ──────────────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = newAdminServer(cfg, application, client, b, metrics)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// SIGHUP forces a reload without waiting for the next mtime poll.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		application.Reload(d)
	}, config.WithReloadSignal(hup))
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	// The listening session, the admin server and the watcher share one
	// errgroup. When the session ends the others are cancelled with it.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := application.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			// Session ended without error; stop the rest of the group.
			return errSessionEnded
		}
		return err
	})
	if srv != nil {
		g.Go(func() error { return serveAdmin(gctx, srv, cfg.Server.TLS) })
	}
	g.Go(func() error { return watcher.Run(gctx) })

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping...")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, errSessionEnded) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

var errSessionEnded = errors.New("session ended")

// ── Account ───────────────────────────────────────────────────────────────────

func accountClient(cfg *config.Config, m *observe.Metrics) (*account.Client, error) {
	base := cfg.Account.BaseURL
	if base == "" {
		base = cfg.API.BaseURL
	}
	return account.New(base, account.WithMetrics(m))
}

// login registers or logs in the configured user, warms the quota cache and
// applies account.plan when it is an upgrade.
func login(ctx context.Context, cfg *config.Config, m *observe.Metrics) (*account.QuotaCache, string, error) {
	ac, err := accountClient(cfg, m)
	if err != nil {
		return nil, "", err
	}
	user, err := ac.RegisterOrLogin(ctx, cfg.Account.GoogleID, cfg.Account.Email)
	if err != nil {
		return nil, "", err
	}
	slog.Info("logged in", "user_id", user.UserID, "plan", user.CurrentPlan, "remaining", user.ResponsesRemaining)

	if target := cfg.Account.Plan; target != "" && account.CanSelect(user.CurrentPlan, target) {
		st, err := ac.SelectPlan(ctx, user.UserID, target)
		if err != nil {
			return nil, "", fmt.Errorf("select plan %q: %w", target, err)
		}
		slog.Info("plan selected", "plan", st.CurrentPlan, "remaining", st.ResponsesRemaining)
	}

	quota := account.NewQuotaCache(ac, user.UserID)
	if _, err := quota.Refresh(ctx); err != nil {
		return nil, "", err
	}
	return quota, user.UserID, nil
}

func runAccountCommand(ctx context.Context, cfg *config.Config, m *observe.Metrics, quota *account.QuotaCache, plan string) int {
	if plan != "" {
		if !account.CanSelect(quota.Plan(), plan) {
			fmt.Fprintf(os.Stderr, "voicechat: cannot switch from %q to %q; only upgrades are allowed\n", quota.Plan(), plan)
			return 1
		}
		ac, err := accountClient(cfg, m)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
			return 1
		}
		if _, err := ac.SelectPlan(ctx, quota.UserID(), plan); err != nil {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
			return 1
		}
		if _, err := quota.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
			return 1
		}
	}
	writeAccountStatus(os.Stdout, quota)
	return 0
}

func writeAccountStatus(w io.Writer, quota *account.QuotaCache) {
	remaining, _ := quota.Remaining()
	name := quota.Plan()
	if p, ok := account.LookupPlan(name); ok {
		name = p.Name
	}
	fmt.Fprintf(w, "User:      %s\n", quota.UserID())
	fmt.Fprintf(w, "Plan:      %s\n", name)
	fmt.Fprintf(w, "Remaining: %d responses\n", remaining)
	fmt.Fprintf(w, "Checked:   %s\n", quota.UpdatedAt().Local().Format(time.DateTime))
}

// ── History ───────────────────────────────────────────────────────────────────

func runHistory(ctx context.Context, cfg *config.Config, userID string, n int) int {
	store, err := app.OpenHistory(ctx, cfg.History)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: open history: %v\n", err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(os.Stderr, "voicechat: -history needs history.driver to be set")
		return 2
	}
	defer store.Close()

	recs, err := store.Recent(ctx, userID, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: read history: %v\n", err)
		return 1
	}
	writeHistory(os.Stdout, recs)
	return 0
}

// writeHistory prints one line per exchange, followed by the reply or the
// error it ended with.
func writeHistory(w io.Writer, recs []history.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No exchanges recorded.")
		return
	}
	for _, r := range recs {
		heard := r.Transcript
		if heard == "" {
			heard = "(nothing heard)"
		}
		fmt.Fprintf(w, "%s  %5.1fs  %s\n", r.Timestamp.Local().Format(time.DateTime), r.Duration.Seconds(), heard)
		switch {
		case r.Failed():
			fmt.Fprintf(w, "    ! %s\n", r.Error)
		case r.Reply != "":
			fmt.Fprintf(w, "    > %s\n", r.Reply)
		}
	}
}

// ── Voices ────────────────────────────────────────────────────────────────────

func runListVoices(ctx context.Context, cfg *config.Config) int {
	entry := cfg.Synthesize.Provider
	if entry.Name != "elevenlabs" {
		fmt.Fprintln(os.Stderr, "voicechat: -list-voices needs synthesize.provider.name: elevenlabs")
		return 2
	}
	p, err := newElevenLabs(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}
	for _, v := range voices {
		fmt.Printf("%-24s %s\n", v.ID, v.Name)
	}
	return 0
}

// ── Admin server ──────────────────────────────────────────────────────────────

func newAdminServer(cfg *config.Config, a *app.App, client *voiceapi.Client, b *built, m *observe.Metrics) *http.Server {
	var checkers []health.Checker
	if client != nil {
		checkers = append(checkers, health.Checker{Name: "backend", Check: client.Ping})
	}
	if len(b.breakers) > 0 {
		checkers = append(checkers, health.Breakers("transcribers", b.breakers...))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws/waveform", a.Waveform())

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveAdmin runs srv until ctx ends, then shuts it down.
func serveAdmin(ctx context.Context, srv *http.Server, tls *config.TLSConfig) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	slog.Info("admin server listening", "addr", srv.Addr, "tls", tls != nil)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return <-errCh
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, userID string, quota *account.QuotaCache) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicechat startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	audioName := cfg.Providers.Audio.Name
	if audioName == "" {
		audioName = defaultAudioSource
	}
	printProvider("Audio", audioName, "")
	printProvider("STT", nameOrBackend(cfg.Providers.STT.Name), cfg.Providers.STT.Model)
	if n := len(cfg.Providers.STTFallbacks); n > 0 {
		names := make([]string, n)
		for i, e := range cfg.Providers.STTFallbacks {
			names[i] = nameOrBackend(e.Name)
		}
		printProvider("STT fallback", strings.Join(names, ","), "")
	}
	printProvider("Chat", nameOrBackend(cfg.Chat.Provider.Name), cfg.Chat.Provider.Model)
	if cfg.Synthesize.Enabled {
		printProvider("TTS", nameOrBackend(cfg.Synthesize.Provider.Name), cfg.Synthesize.Provider.Model)
	} else {
		printProvider("TTS", "", "")
	}
	printProvider("History", string(cfg.History.Driver), "")
	if userID != "" {
		printProvider("User", userID, "")
	}
	if quota != nil {
		if n, ok := quota.Remaining(); ok {
			fmt.Printf("║  %-12s    : %-19d ║\n", "Responses", n)
		}
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(disabled)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, ellipsize(value, 19))
}

// ellipsize shortens s to at most width runes, marking the cut with "…".
func ellipsize(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
