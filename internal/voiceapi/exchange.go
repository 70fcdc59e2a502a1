package voiceapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voicechat/internal/observe"
	"github.com/MrWong99/voicechat/pkg/provider/stt"
)

// Chatter produces a reply to a transcript. [*Client] is the remote
// implementation; a local agent can stand in when no backend is configured.
type Chatter interface {
	Chat(ctx context.Context, userID, message string) (ChatReply, error)
}

// Compile-time assertion that Client implements Chatter.
var _ Chatter = (*Client)(nil)

// Result is the outcome of one successful exchange.
type Result struct {
	Transcript string
	Reply      ChatReply
}

// Exchange runs the strict transcribe-then-chat pipeline for one utterance.
// It is safe for concurrent use as long as its collaborators are.
type Exchange struct {
	stt     stt.Provider
	chat    Chatter
	metrics *observe.Metrics

	// OnTranscript, if set, is called with the transcript before chat starts.
	OnTranscript func(text string)
}

// NewExchange wires a transcriber and a chatter. m may be nil, in which case
// [observe.DefaultMetrics] is used.
func NewExchange(transcriber stt.Provider, chat Chatter, m *observe.Metrics) *Exchange {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Exchange{stt: transcriber, chat: chat, metrics: m}
}

// Run transcribes req and, only if that succeeds, sends the transcript to the
// chat backend on behalf of req.UserID.
//
// A transcription failure is returned as a *[TranscriptionError] and chat is
// never called. A chat failure is returned as a *[ChatError]; when it carries
// [ErrQuotaExhausted] the transcript is still present in the returned Result.
// Cancellation of ctx is returned unwrapped; a deadline that expires during
// a stage is that stage's failure and is typed like any other.
func (e *Exchange) Run(ctx context.Context, req stt.Request) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "voicechat.exchange")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Float64("audio_seconds", req.Duration().Seconds()),
	)
	log := observe.Logger(ctx).With(slog.String("user_id", req.UserID))

	start := time.Now()
	text, err := e.stt.Transcribe(ctx, req)
	e.metrics.RecordStage(ctx, "transcribe", time.Since(start))
	if err != nil {
		if callerCancelled(ctx) {
			return Result{}, ctx.Err()
		}
		e.metrics.RecordExchange(ctx, "transcription_error")
		log.Debug("transcription failed", "err", err)
		span.SetStatus(codes.Error, "transcription failed")
		span.RecordError(err)
		var te *TranscriptionError
		if errors.As(err, &te) {
			return Result{}, te
		}
		return Result{}, &TranscriptionError{Status: statusOf(err), Err: err}
	}
	log.Debug("transcribed", "chars", len(text))
	if e.OnTranscript != nil {
		e.OnTranscript(text)
	}

	res := Result{Transcript: text}
	start = time.Now()
	reply, err := e.chat.Chat(ctx, req.UserID, text)
	e.metrics.RecordStage(ctx, "chat", time.Since(start))
	if err != nil {
		if callerCancelled(ctx) {
			return res, ctx.Err()
		}
		e.metrics.RecordExchange(ctx, "chat_error")
		log.Debug("chat failed", "err", err)
		span.SetStatus(codes.Error, "chat failed")
		span.RecordError(err)
		var ce *ChatError
		if errors.As(err, &ce) {
			return res, ce
		}
		return res, &ChatError{Status: statusOf(err), Err: err}
	}

	res.Reply = reply
	e.metrics.RecordExchange(ctx, "ok")
	log.Debug("exchange completed", "reply_chars", len(reply.Response))
	return res, nil
}

// callerCancelled reports whether ctx was cancelled rather than timed out.
func callerCancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
