// Package mock provides a scripted llm.Provider for agent tests.
//
//	p := &mock.Provider{Replies: []string{"Paris.", "About two million."}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicechat/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation. Req.Messages is a copy,
// so later mutation of the caller's history does not show up here.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from a script.
//
// Replies are consumed one per call. Once they run out, CompleteResponse is
// returned as is (nil, nil when unset). CompleteErr takes precedence over
// both and does not consume a reply.
type Provider struct {
	Replies          []string
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	mu    sync.Mutex
	calls []CompleteCall
}

// Complete records req and returns the next scripted answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})

	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.Replies) > 0 {
		text := p.Replies[0]
		p.Replies = p.Replies[1:]
		return &llm.CompletionResponse{Content: text}, nil
	}
	return p.CompleteResponse, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.calls...)
}
