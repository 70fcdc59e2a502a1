// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open) that stops calling a backend that keeps
// failing. [FallbackGroup] composes several instances of one provider type,
// each behind its own breaker, so a failing transcriber is bypassed in
// favour of the next configured one.
//
// Nothing in this package retries a call against the same backend. A failed
// call counts against that backend's breaker and the group moves on.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] instead of calling
// a backend whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected until ResetTimeout elapses
	StateHalfOpen              // a limited number of probe calls pass through
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted on each.
type CircuitBreakerConfig struct {
	// Name labels log lines and metrics, usually the provider name.
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker rejects calls before letting
	// a probe through. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax successful probes close the breaker again. It also caps
	// concurrent probes. Default 1.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. The
	// default ignores context cancellation.
	IsFailure func(error) bool

	// OnStateChange is called after every transition with the breaker's lock
	// held. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker stops calls to a backend after repeated failures and lets
// them through again once a probe succeeds.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int // consecutive, closed state only
	openedAt time.Time
	inFlight int // probes running in half-open
	probesOK int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen], and
// books fn's result against the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and whether it is a half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.inFlight >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.inFlight++
	return true, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.inFlight > 0 {
		cb.inFlight--
	}
	failed := err != nil && cb.cfg.IsFailure(err)
	switch {
	case err != nil && !failed:
		// Neither success nor failure, e.g. the caller gave up.
	case cb.state == StateHalfOpen && probe:
		if failed {
			cb.trip()
			return
		}
		if cb.probesOK++; cb.probesOK >= cb.cfg.HalfOpenMax {
			cb.moveTo(StateClosed)
		}
	case cb.state == StateHalfOpen:
		// A call admitted while closed finished after the breaker tripped
		// and recovered to half-open. Only failures matter here.
		if failed {
			cb.trip()
		}
	case failed:
		if cb.failures++; cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.cfg.Now()
	cb.moveTo(StateOpen)
}

// moveTo changes state and clears the per-state counters. cb.mu must be
// held.
func (cb *CircuitBreaker) moveTo(next State) {
	prev := cb.state
	if prev == next {
		return
	}
	if next == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "from", prev.String(), "consecutive_failures", cb.failures)
	} else {
		slog.Info("circuit breaker state changed", "name", cb.cfg.Name, "from", prev.String(), "to", next.String())
	}

	cb.state = next
	cb.inFlight, cb.probesOK = 0, 0
	if next == StateClosed {
		cb.failures = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, next)
	}
}

// State reports the breaker's mode. An open breaker whose timeout has run
// out reports [StateHalfOpen], since the next call would be let through.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
	cb.failures = 0
}
