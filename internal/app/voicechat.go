package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicechat/internal/history"
	"github.com/MrWong99/voicechat/internal/observe"
	"github.com/MrWong99/voicechat/internal/recorder"
	"github.com/MrWong99/voicechat/internal/vad"
	"github.com/MrWong99/voicechat/internal/voiceapi"
	"github.com/MrWong99/voicechat/internal/waveform"
	"github.com/MrWong99/voicechat/pkg/audio"
	"github.com/MrWong99/voicechat/pkg/provider/stt"
	"github.com/MrWong99/voicechat/pkg/provider/tts"
)

var (
	// ErrSessionActive is returned by StartListening while a session is open.
	ErrSessionActive = errors.New("app: a capture session is already active")

	// ErrNoSession is returned by StopListening when nothing is listening.
	ErrNoSession = errors.New("app: no active capture session")
)

const (
	defaultExchangeTimeout   = 60 * time.Second
	defaultSynthesizeTimeout = 30 * time.Second
	historyWriteTimeout      = 5 * time.Second
)

// Quota gates session start and receives counts pushed by the chat backend.
// [*account.QuotaCache] implements it.
type Quota interface {
	Check(ctx context.Context) error
	Update(remaining int)
}

// SessionInfo holds metadata about the active capture session.
type SessionInfo struct {
	SessionID string
	UserID    string
	StartedAt time.Time
	Status    Status

	// Utterances counts recordings started in this session.
	Utterances int
}

// VoiceChatConfig holds the dependencies and settings of a [VoiceChat].
// Source, Transcriber and Chat are required; everything else is optional.
type VoiceChatConfig struct {
	Source      audio.Source
	Transcriber stt.Provider
	Chat        voiceapi.Chatter

	// Synthesizer, when set, renders each reply into OutputDir.
	Synthesizer tts.Provider
	VoiceID     string
	OutputDir   string

	Quota   Quota
	History history.Store
	Sink    waveform.Sink
	Metrics *observe.Metrics

	Capture audio.CaptureConfig
	VAD     vad.Config

	// UserID is sent with every transcription and chat request.
	UserID string

	// Language is an optional transcription hint.
	Language string

	// ExchangeTimeout bounds one transcribe+chat exchange. Default: 60s.
	ExchangeTimeout time.Duration

	// OnEvent receives session notifications. It is called from the session
	// goroutine, in order, and must not block.
	OnEvent func(Event)
}

// VoiceChat runs at most one capture session at a time: it reads blocks
// from the audio source, feeds their energy to the voice activity machine,
// records utterances, and hands each finished utterance to the
// transcription and chat exchange.
//
// All exported methods are safe for concurrent use.
type VoiceChat struct {
	cfg     VoiceChatConfig
	metrics *observe.Metrics

	mu      sync.Mutex
	vadCfg  vad.Config
	voiceID string
	session *session
}

// NewVoiceChat validates cfg and returns an idle VoiceChat.
func NewVoiceChat(cfg VoiceChatConfig) (*VoiceChat, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Chat == nil {
		errs = append(errs, errors.New("chat backend is required"))
	}
	if cfg.Synthesizer != nil && cfg.OutputDir == "" {
		errs = append(errs, errors.New("output dir is required when synthesis is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}
	cfg.Capture = cfg.Capture.WithDefaults()
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &VoiceChat{cfg: cfg, metrics: m, vadCfg: cfg.VAD.WithDefaults(), voiceID: cfg.VoiceID}, nil
}

// SetVADConfig replaces the detector thresholds. The change applies to the
// next session; a running session keeps the values it started with.
func (vc *VoiceChat) SetVADConfig(cfg vad.Config) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.vadCfg = cfg.WithDefaults()
}

// VADConfig returns the thresholds the next session will use.
func (vc *VoiceChat) VADConfig() vad.Config {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.vadCfg
}

// SetVoiceID changes the synthesis voice. It applies to the next reply,
// including one in the running session.
func (vc *VoiceChat) SetVoiceID(id string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.voiceID = id
}

// VoiceID returns the synthesis voice in use.
func (vc *VoiceChat) VoiceID() string {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.voiceID
}

// StartListening checks the quota, opens the microphone and starts the
// session goroutine.
//
// It fails with [ErrSessionActive] if a session is open, with an error
// wrapping [voiceapi.ErrQuotaExhausted] when no responses are left, and with
// the source's error (wrapping [audio.ErrPermissionDenied] or
// [audio.ErrDeviceUnavailable]) when the device cannot be acquired. The
// quota is checked before the device is touched. ctx bounds the start-up
// only; the session runs until [VoiceChat.StopListening].
func (vc *VoiceChat) StartListening(ctx context.Context) (SessionInfo, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.session != nil {
		return SessionInfo{}, ErrSessionActive
	}

	if vc.cfg.Quota != nil {
		if err := vc.cfg.Quota.Check(ctx); err != nil {
			slog.Info("listening refused", "user_id", vc.cfg.UserID, "err", err)
			return SessionInfo{}, fmt.Errorf("app: start listening: %w", err)
		}
	}

	capture, err := vc.cfg.Source.Open(ctx, vc.cfg.Capture)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: open microphone: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		vc:      vc,
		id:      uuid.NewString(),
		started: time.Now().UTC(),
		capture: capture,
		machine: vad.NewMachine(vc.vadCfg),
		rec:     recorder.New(vc.cfg.Capture.SampleRate),
		msgs:    make(chan sessionMsg, 4),
		ctx:     sessCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  StatusIdle,
	}
	s.exchange = voiceapi.NewExchange(vc.cfg.Transcriber, vc.cfg.Chat, vc.metrics)
	s.exchange.OnTranscript = func(text string) {
		s.post(sessionMsg{kind: msgTranscript, text: text})
	}
	vc.session = s
	vc.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("listening started",
		"session_id", s.id,
		"user_id", vc.cfg.UserID,
		"sample_rate", vc.cfg.Capture.SampleRate,
		"block_size", vc.cfg.Capture.BlockSize,
		"silence_threshold", vc.vadCfg.SilenceThreshold,
		"silence_duration", vc.vadCfg.SilenceDuration,
	)

	go s.run()
	return s.info(), nil
}

// StopListening ends the active session: intake stops, an open recording is
// discarded, an in-flight exchange is abandoned and the microphone is
// released. It returns once the session goroutine has exited.
func (vc *VoiceChat) StopListening() error {
	vc.mu.Lock()
	s := vc.session
	vc.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	s.cancel()
	<-s.done
	return nil
}

// IsActive reports whether a session is open.
func (vc *VoiceChat) IsActive() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.session != nil
}

// Info returns metadata about the active session, or the zero value with
// [StatusIdle] when none is open.
func (vc *VoiceChat) Info() SessionInfo {
	vc.mu.Lock()
	s := vc.session
	vc.mu.Unlock()
	if s == nil {
		return SessionInfo{Status: StatusIdle}
	}
	return s.info()
}

// Done returns a channel closed when the active session ends. With no
// session open it returns a closed channel.
func (vc *VoiceChat) Done() <-chan struct{} {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.session == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return vc.session.done
}

// ---- session ----

type msgKind int

const (
	msgTranscript msgKind = iota
	msgExchangeDone
	msgAudio
)

// sessionMsg is posted by exchange goroutines back to the session loop.
type sessionMsg struct {
	kind        msgKind
	utteranceID string
	text        string
	result      voiceapi.Result
	err         error
	audioPath   string
}

// session is one open capture. The machine and recorder are touched only
// by run.
type session struct {
	vc       *VoiceChat
	id       string
	started  time.Time
	capture  audio.Capture
	machine  *vad.Machine
	rec      *recorder.Recorder
	exchange *voiceapi.Exchange

	msgs   chan sessionMsg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	status     Status
	utterances int
	current    recorder.Utterance
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		SessionID:  s.id,
		UserID:     s.vc.cfg.UserID,
		StartedAt:  s.started,
		Status:     s.status,
		Utterances: s.utterances,
	}
}

// post delivers msg to the loop unless the session has ended.
func (s *session) post(msg sessionMsg) {
	select {
	case s.msgs <- msg:
	case <-s.ctx.Done():
	}
}

func (s *session) emit(ev Event) {
	if s.vc.cfg.OnEvent == nil {
		return
	}
	ev.At = time.Now()
	ev.SessionID = s.id
	s.vc.cfg.OnEvent(ev)
}

func (s *session) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed {
		s.emit(Event{Type: EventStatus, Status: st})
	}
}

func (s *session) run() {
	var endErr error
	defer func() {
		s.cancel()
		if prev := s.machine.Stop(); prev == vad.Recording {
			s.rec.Discard()
			slog.Debug("recording discarded", "session_id", s.id)
		}
		if err := s.capture.Close(); err != nil {
			slog.Warn("microphone close error", "session_id", s.id, "err", err)
		}
		s.wg.Wait()

		s.vc.mu.Lock()
		s.vc.session = nil
		s.vc.mu.Unlock()
		s.vc.metrics.ActiveSessions.Add(context.Background(), -1)

		s.setStatus(StatusIdle)
		s.emit(Event{Type: EventSessionEnded, Err: endErr})
		slog.Info("listening stopped", "session_id", s.id, "utterances", s.machine.Episodes(), "err", endErr)
		close(s.done)
	}()

	blocks := s.capture.Blocks()
	for {
		select {
		case <-s.ctx.Done():
			return
		case blk, ok := <-blocks:
			if !ok {
				endErr = s.capture.Err()
				if endErr != nil {
					slog.Error("microphone lost", "session_id", s.id, "err", endErr)
					s.emit(Event{Type: EventError, Err: endErr, Message: UserMessage(endErr)})
				}
				return
			}
			s.handleBlock(blk)
		case msg := <-s.msgs:
			s.handleMsg(msg)
		}
	}
}

// handleBlock runs one block through the energy detector and the machine.
func (s *session) handleBlock(blk audio.Block) {
	rms := vad.RMS(blk.Samples)
	tr := s.machine.Observe(rms, blk.Timestamp)

	switch tr {
	case vad.StartRecording:
		s.rec.Begin()
		s.appendBlock(blk)
		s.mu.Lock()
		s.utterances++
		s.mu.Unlock()
		s.vc.metrics.RecordVADTransition(s.ctx, tr.String())
		s.setStatus(StatusRecording)

	case vad.Finalize:
		s.appendBlock(blk)
		utt := s.rec.Finalize()
		s.vc.metrics.RecordVADTransition(s.ctx, tr.String())
		s.vc.metrics.RecordUtterance(s.ctx, utt.Duration())
		slog.Debug("utterance finalized",
			"session_id", s.id,
			"utterance_id", utt.ID(),
			"chunks", utt.ChunkCount(),
			"duration", utt.Duration(),
		)
		s.mu.Lock()
		s.current = utt
		s.mu.Unlock()
		s.setStatus(StatusTranscribing)
		s.wg.Add(1)
		go s.runExchange(utt)

	default:
		if s.machine.State() == vad.Recording {
			s.appendBlock(blk)
		}
	}

	if sink := s.vc.cfg.Sink; sink != nil {
		sink.Observe(waveform.Snapshot(blk, rms, s.machine.State() == vad.Recording))
	}
}

func (s *session) appendBlock(blk audio.Block) {
	if err := s.rec.AppendBlock(blk); err != nil {
		slog.Warn("append block", "session_id", s.id, "seq", blk.Seq, "err", err)
	}
}

// runExchange transcribes and chats for utt, then reports back to the loop.
// Synthesis and history happen afterwards and never hold up listening.
func (s *session) runExchange(utt recorder.Utterance) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.vc.cfg.ExchangeTimeout)
	res, err := s.exchange.Run(ctx, stt.Request{
		PCM:        utt.PCM(),
		SampleRate: utt.SampleRate(),
		Language:   s.vc.cfg.Language,
		UserID:     s.vc.cfg.UserID,
	})
	cancel()

	if s.ctx.Err() != nil {
		slog.Debug("exchange result dropped", "session_id", s.id, "utterance_id", utt.ID())
		return
	}
	s.post(sessionMsg{kind: msgExchangeDone, utteranceID: utt.ID(), result: res, err: err})

	rec := history.Record{
		Timestamp:   time.Now().UTC(),
		SessionID:   s.id,
		UserID:      s.vc.cfg.UserID,
		UtteranceID: utt.ID(),
		Duration:    utt.Duration(),
		Transcript:  res.Transcript,
		Reply:       res.Reply.Response,
	}
	if res.Reply.RemainingKnown {
		n := res.Reply.Remaining
		rec.Remaining = &n
	}
	if err != nil {
		rec.Error = UserMessage(err)
	} else if path := s.synthesize(utt.ID(), res.Reply.Response); path != "" {
		rec.AudioPath = path
		s.post(sessionMsg{kind: msgAudio, utteranceID: utt.ID(), audioPath: path})
	}
	s.appendHistory(rec)
}

// synthesize renders reply into the output directory and returns the file
// path, or "" when synthesis is disabled or failed.
func (s *session) synthesize(utteranceID, reply string) string {
	synth := s.vc.cfg.Synthesizer
	if synth == nil || reply == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(s.ctx, defaultSynthesizeTimeout)
	defer cancel()

	start := time.Now()
	clip, err := synth.Synthesize(ctx, reply, s.vc.VoiceID())
	s.vc.metrics.RecordStage(ctx, "synthesize", time.Since(start))
	if err != nil {
		if s.ctx.Err() == nil {
			slog.Warn("synthesis failed", "session_id", s.id, "utterance_id", utteranceID, "err", err)
		}
		return ""
	}
	if len(clip.Data) == 0 {
		return ""
	}
	if err := os.MkdirAll(s.vc.cfg.OutputDir, 0o755); err != nil {
		slog.Warn("synthesis output dir", "dir", s.vc.cfg.OutputDir, "err", err)
		return ""
	}
	path := filepath.Join(s.vc.cfg.OutputDir, utteranceID+clip.Ext())
	if err := os.WriteFile(path, clip.Data, 0o644); err != nil {
		slog.Warn("write synthesized reply", "path", path, "err", err)
		return ""
	}
	return path
}

func (s *session) appendHistory(rec history.Record) {
	store := s.vc.cfg.History
	if store == nil {
		return
	}
	// The record is kept even when the session stops meanwhile.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), historyWriteTimeout)
	defer cancel()
	if err := store.Append(ctx, rec); err != nil {
		slog.Warn("history append failed", "session_id", s.id, "utterance_id", rec.UtteranceID, "err", err)
	}
}

func (s *session) handleMsg(msg sessionMsg) {
	switch msg.kind {
	case msgTranscript:
		s.emit(Event{Type: EventTranscript, UtteranceID: s.currentID(), Text: msg.text})
		s.setStatus(StatusChatting)

	case msgExchangeDone:
		if err := s.machine.Complete(); err != nil {
			slog.Warn("unexpected exchange completion", "session_id", s.id, "err", err)
		}
		if msg.err != nil {
			slog.Warn("exchange failed", "session_id", s.id, "utterance_id", msg.utteranceID, "err", msg.err)
			s.emit(Event{Type: EventError, UtteranceID: msg.utteranceID, Err: msg.err, Message: UserMessage(msg.err)})
		} else {
			reply := msg.result.Reply
			if reply.RemainingKnown && s.vc.cfg.Quota != nil {
				s.vc.cfg.Quota.Update(reply.Remaining)
			}
			s.emit(Event{
				Type:           EventReply,
				UtteranceID:    msg.utteranceID,
				Text:           reply.Response,
				Remaining:      reply.Remaining,
				RemainingKnown: reply.RemainingKnown,
			})
		}
		// A 402 from chat is the server's verdict on the quota.
		if errors.Is(msg.err, voiceapi.ErrQuotaExhausted) && s.vc.cfg.Quota != nil {
			s.vc.cfg.Quota.Update(0)
		}
		s.setStatus(StatusIdle)

	case msgAudio:
		s.emit(Event{Type: EventAudio, UtteranceID: msg.utteranceID, AudioPath: msg.audioPath})
	}
}

func (s *session) currentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.ID()
}
