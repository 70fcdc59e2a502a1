// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"}}
//	clip, _ := p.Synthesize(ctx, "hello", "")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicechat/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text    string
	VoiceID string
}

// Provider is a configurable tts.Provider. Zero value returns an empty clip.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by every successful Synthesize call.
	Audio tts.Audio

	// Err, when non-nil, is returned instead of Audio.
	Err error

	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, VoiceID: voiceID})
	if err := ctx.Err(); err != nil {
		return tts.Audio{}, err
	}
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	return p.Audio, nil
}

// Calls returns a copy of all recorded Synthesize invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.calls...)
}
