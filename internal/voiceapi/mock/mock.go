// Package mock provides a test double for the voiceapi.Chatter interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicechat/internal/voiceapi"
)

// ChatCall records a single invocation of Chatter.Chat.
type ChatCall struct {
	UserID  string
	Message string
}

// Chatter is a mock implementation of voiceapi.Chatter.
type Chatter struct {
	mu sync.Mutex

	// Reply is returned by Chat when Err is nil.
	Reply voiceapi.ChatReply

	// Err, if non-nil, is returned as the error from Chat.
	Err error

	// Gate, if non-nil, blocks Chat until a value is received or the channel
	// is closed, or until ctx is done.
	Gate chan struct{}

	// ChatCalls records every call to Chat.
	ChatCalls []ChatCall
}

// Chat records the call and returns Reply, Err.
func (c *Chatter) Chat(ctx context.Context, userID, message string) (voiceapi.ChatReply, error) {
	c.mu.Lock()
	c.ChatCalls = append(c.ChatCalls, ChatCall{UserID: userID, Message: message})
	gate := c.Gate
	reply, err := c.Reply, c.Err
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return voiceapi.ChatReply{}, ctx.Err()
		}
	}
	return reply, err
}

// CallCount returns the number of Chat calls. Thread-safe.
func (c *Chatter) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ChatCalls)
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (c *Chatter) Calls() []ChatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatCall(nil), c.ChatCalls...)
}

var _ voiceapi.Chatter = (*Chatter)(nil)
