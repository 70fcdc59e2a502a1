// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) and turns a short conversation into one reply.
// voicechat uses it for the local agent that answers transcripts when no chat
// backend is configured.
//
// Implementors must be safe for concurrent use and must not retry on their own.
package llm

import (
	"context"
	"fmt"
)

// Message is a single turn of a conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text of the turn.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// normally from the "user" role.
	Messages []Message

	// SystemPrompt is an optional instruction placed before the history.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It returns promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// StatusError reports a non-success HTTP response from an LLM API.
type StatusError struct {
	// Provider names the backend (e.g., "openai").
	Provider string

	// StatusCode is the HTTP status returned.
	StatusCode int

	// Err is the underlying SDK error.
	Err error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned HTTP %d", e.Provider, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus returns StatusCode.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }
