package resilience

import (
	"context"

	"github.com/MrWong99/voicechat/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends. Each backend has its own circuit breaker and is asked at most
// once per utterance.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in the order they are tried.
func (f *STTFallback) Names() []string {
	return f.group.Names()
}

// Breaker returns the circuit breaker guarding the named backend, or nil.
func (f *STTFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// Transcribe asks the first healthy backend to transcribe req, moving on to
// the next backend when one fails.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, req)
	})
}
