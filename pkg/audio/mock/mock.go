// Package mock provides in-memory mock implementations of [audio.Source] and
// [audio.Capture] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(16)
//	source := &mock.Source{OpenResult: capture}
//	c, err := source.Open(ctx, audio.CaptureConfig{BlockSize: 4096})
//	capture.Send(audio.Block{Samples: loud})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicechat/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Tests push blocks with
// [Capture.Send] and simulate device loss with [Capture.End].
type Capture struct {
	mu sync.Mutex

	blocks chan audio.Block
	ended  bool
	err    error
	closed chan struct{}

	// CloseError is returned by the first call to [Capture.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns a Capture whose block channel has the given buffer size.
func NewCapture(buffer int) *Capture {
	return &Capture{
		blocks: make(chan audio.Block, buffer),
		closed: make(chan struct{}),
	}
}

// Blocks implements [audio.Capture].
func (c *Capture) Blocks() <-chan audio.Block {
	return c.blocks
}

// Err implements [audio.Capture]. Returns the error passed to [Capture.End].
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements [audio.Capture]. Only the first call returns CloseError.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if c.CallCountClose > 1 {
		return nil
	}
	close(c.closed)
	return c.CloseError
}

// Closed returns a channel that is closed once [Capture.Close] has been called.
func (c *Capture) Closed() <-chan struct{} {
	return c.closed
}

// IsClosed reports whether Close has been called at least once.
func (c *Capture) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose > 0
}

// Send delivers blk to the consumer. It blocks while the buffer is full and
// returns false if the capture was already ended or closed.
func (c *Capture) Send(blk audio.Block) bool {
	c.mu.Lock()
	if c.ended || c.CallCountClose > 0 {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	select {
	case c.blocks <- blk:
		return true
	case <-c.closed:
		return false
	}
}

// End closes the block channel as if the device went away, recording err as
// the reason. Calling End more than once is a no-op. End must not race with
// [Capture.Send].
func (c *Capture) End(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	c.err = err
	close(c.blocks)
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// OpenResult is the [audio.Capture] returned by Open.
	OpenResult audio.Capture

	// OpenError is the error returned by Open. When set, OpenResult is ignored.
	OpenError error

	// OpenCalls records the config of every Open invocation.
	OpenCalls []audio.CaptureConfig
}

// Open implements [audio.Source]. Records the call and returns OpenResult / OpenError.
func (s *Source) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, cfg)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	return s.OpenResult, nil
}

// CallCountOpen returns how many times Open was called.
func (s *Source) CallCountOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}
