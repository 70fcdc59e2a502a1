// Package agent provides a local conversational agent that answers
// transcripts with an LLM. It stands in for the remote /chat backend when
// none is configured and keeps a short per-user conversation history so
// that follow-up questions make sense.
//
// The agent does not meter usage: replies never carry a remaining quota.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicechat/internal/voiceapi"
	"github.com/MrWong99/voicechat/pkg/provider/llm"
)

// DefaultSystemPrompt is used when [Config.SystemPrompt] is empty.
const DefaultSystemPrompt = "You are a friendly voice assistant. Answer in one to three short spoken sentences. " +
	"Do not use markdown, lists, or emoji."

// Compile-time assertion that Agent can replace the chat backend.
var _ voiceapi.Chatter = (*Agent)(nil)

// Config holds the agent's persona and limits.
type Config struct {
	// SystemPrompt is the instruction placed before every conversation.
	// Defaults to [DefaultSystemPrompt].
	SystemPrompt string

	// MaxTurns is the number of user/assistant exchanges kept per user.
	// Older turns are dropped first. Defaults to 10.
	MaxTurns int

	// Temperature and MaxTokens are forwarded to the LLM.
	Temperature float64
	MaxTokens   int

	// Timeout bounds one completion. Zero means no extra bound.
	Timeout time.Duration
}

// Agent answers transcripts with an [llm.Provider]. It is safe for
// concurrent use; calls for the same user are serialised so that the
// history stays coherent.
type Agent struct {
	llm llm.Provider
	cfg Config

	mu    sync.Mutex
	users map[string]*conversation
}

type conversation struct {
	mu      sync.Mutex
	history []llm.Message
}

// New creates an Agent. p must not be nil.
func New(p llm.Provider, cfg Config) (*Agent, error) {
	if p == nil {
		return nil, errors.New("agent: llm provider must not be nil")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	return &Agent{llm: p, cfg: cfg, users: make(map[string]*conversation)}, nil
}

// Chat implements voiceapi.Chatter. A blank message yields an empty reply
// without calling the model.
func (a *Agent) Chat(ctx context.Context, userID, message string) (voiceapi.ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return voiceapi.ChatReply{}, nil
	}

	conv := a.conversation(userID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	msgs := make([]llm.Message, 0, len(conv.history)+1)
	msgs = append(msgs, conv.history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: message})

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: a.cfg.SystemPrompt,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if err != nil {
		return voiceapi.ChatReply{}, fmt.Errorf("agent: complete: %w", err)
	}
	if resp == nil {
		return voiceapi.ChatReply{}, errors.New("agent: empty completion")
	}

	reply := strings.TrimSpace(resp.Content)
	conv.history = append(msgs, llm.Message{Role: "assistant", Content: reply})
	if over := len(conv.history) - 2*a.cfg.MaxTurns; over > 0 {
		conv.history = append([]llm.Message(nil), conv.history[over:]...)
	}
	slog.Debug("agent replied", "user_id", userID, "turns", len(conv.history)/2, "tokens", resp.Usage.TotalTokens)

	return voiceapi.ChatReply{Response: reply}, nil
}

// History returns a copy of the conversation kept for userID.
func (a *Agent) History(userID string) []llm.Message {
	conv := a.conversation(userID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return append([]llm.Message(nil), conv.history...)
}

// Forget drops the conversation kept for userID.
func (a *Agent) Forget(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.users, userID)
}

func (a *Agent) conversation(userID string) *conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.users[userID]
	if !ok {
		c = &conversation{}
		a.users[userID] = c
	}
	return c
}
