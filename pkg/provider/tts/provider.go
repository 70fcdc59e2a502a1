// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider renders one finished chat reply as a single encoded audio
// clip. voicechat synthesizes replies after the exchange has completed, so a
// synthesis failure never affects listening.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"mime"
)

// Audio is one synthesized clip.
type Audio struct {
	// Data is the encoded audio (MP3, WAV, ...).
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/mpeg").
	ContentType string
}

// Ext returns a file extension for the clip, including the dot. Unknown
// types fall back to ".bin".
func (a Audio) Ext() string {
	switch a.ContentType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	}
	if exts, _ := mime.ExtensionsByType(a.ContentType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Voice describes a voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Labels holds provider-specific attributes (accent, gender, ...).
	Labels map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voiceID. An empty voiceID selects the
	// provider default; empty text yields an empty clip.
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}
