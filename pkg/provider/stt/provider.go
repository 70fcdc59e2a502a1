// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one finished utterance into text in a single
// request/response. Providers never retry on their own: a failed call is
// reported to the caller, which may fail over to a different provider but
// never replays the same request against the same backend.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// Request is one utterance to transcribe.
type Request struct {
	// PCM is mono 16-bit signed little-endian audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Language is an optional BCP-47 hint (e.g., "en", "de"). Empty lets the
	// provider auto-detect.
	Language string

	// UserID identifies the speaker to backends that meter usage per user.
	UserID string
}

// WAV returns the request audio as a WAV file.
func (r Request) WAV() []byte {
	return audio.EncodeWAV(r.PCM, r.SampleRate, 1)
}

// Duration returns the playback length of the request audio.
func (r Request) Duration() time.Duration {
	return audio.SamplesDuration(len(r.PCM)/2, r.SampleRate)
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req. An utterance without speech
	// may yield an empty string and a nil error.
	//
	// HTTP-backed providers report non-success responses as *[StatusError].
	Transcribe(ctx context.Context, req Request) (string, error)
}

// StatusError reports a non-success HTTP response from a provider.
type StatusError struct {
	// Provider names the backend (e.g., "backend", "groq").
	Provider string

	// StatusCode is the HTTP status returned.
	StatusCode int

	// Body is a short excerpt of the response body, if any.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns StatusCode.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }
