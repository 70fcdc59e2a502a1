package voiceapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrQuotaExhausted is reported when the user has no responses left. It is
// returned before a session starts when the cached quota is zero, and wrapped
// in a [ChatError] when /chat answers 402 Payment Required.
var ErrQuotaExhausted = errors.New("voiceapi: response quota exhausted")

// TranscriptionError reports a failed transcription. Status is the HTTP
// status of the failing backend, or 0 when no response was received.
type TranscriptionError struct {
	Status int
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("voiceapi: transcription failed: %v", e.Err)
	}
	return fmt.Sprintf("voiceapi: transcription failed: HTTP %d", e.Status)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Message is the text shown to the user in place of the transcript.
func (e *TranscriptionError) Message() string {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "Transcription failed: timed out"
	case e.Status == 0:
		return "Transcription failed: network error"
	}
	return fmt.Sprintf("Transcription failed: %d", e.Status)
}

// ChatError reports a failed chat request. Status is the HTTP status, or 0
// when no response was received.
type ChatError struct {
	Status int
	Err    error
}

func (e *ChatError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("voiceapi: chat failed: %v", e.Err)
	}
	return fmt.Sprintf("voiceapi: chat failed: HTTP %d", e.Status)
}

func (e *ChatError) Unwrap() error { return e.Err }

// Message is the text shown to the user in place of the reply.
func (e *ChatError) Message() string {
	switch {
	case errors.Is(e.Err, ErrQuotaExhausted):
		return "No responses left. Please upgrade your plan."
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "Chat failed: timed out"
	case e.Status == 0:
		return "Chat failed: network error"
	default:
		return fmt.Sprintf("Chat failed: %d", e.Status)
	}
}

// newChatStatusError maps a non-200 /chat response to a ChatError.
func newChatStatusError(status int, body string) *ChatError {
	if status == http.StatusPaymentRequired {
		return &ChatError{Status: status, Err: ErrQuotaExhausted}
	}
	if body == "" {
		return &ChatError{Status: status, Err: fmt.Errorf("server returned HTTP %d", status)}
	}
	return &ChatError{Status: status, Err: fmt.Errorf("server returned HTTP %d: %s", status, body)}
}

// statusOf extracts the HTTP status carried by err, or 0. Both
// *stt.StatusError and *llm.StatusError carry one.
func statusOf(err error) int {
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}

// UserMessage returns the human-readable text for an exchange error, falling
// back to err.Error() for errors without one.
func UserMessage(err error) string {
	var m interface{ Message() string }
	if errors.As(err, &m) {
		return m.Message()
	}
	return err.Error()
}
