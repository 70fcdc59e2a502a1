package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openBreaker(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for range failures {
		_ = cb.Execute(func() error { return errTest })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after %d failures", cb.State(), failures)
	}
}

// step is one call against a breaker in a scripted scenario.
type step struct {
	wait     time.Duration // clock advance before the call
	result   error         // what the wrapped call returns
	wantErr  error         // what Execute should return
	wantCall bool          // whether the wrapped call should run
	want     State         // State() after the call
}

func TestCircuitBreaker_Scenarios(t *testing.T) {
	ok := func(want State) step { return step{wantCall: true, want: want} }
	fail := func(want State) step { return step{result: errTest, wantErr: errTest, wantCall: true, want: want} }
	rejected := func(want State) step { return step{wantErr: ErrCircuitOpen, want: want} }

	tests := []struct {
		name  string
		cfg   CircuitBreakerConfig
		steps []step
	}{
		{
			name:  "defaults trip after five failures",
			cfg:   CircuitBreakerConfig{},
			steps: []step{fail(StateClosed), fail(StateClosed), fail(StateClosed), fail(StateClosed), fail(StateOpen), rejected(StateOpen)},
		},
		{
			name:  "success clears the failure streak",
			cfg:   CircuitBreakerConfig{MaxFailures: 3},
			steps: []step{fail(StateClosed), fail(StateClosed), ok(StateClosed), fail(StateClosed), fail(StateClosed), fail(StateOpen)},
		},
		{
			name: "probe after timeout closes",
			cfg:  CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second},
			steps: []step{
				fail(StateOpen),
				{wait: 9 * time.Second, wantErr: ErrCircuitOpen, want: StateOpen},
				{wait: time.Second, wantCall: true, want: StateClosed},
			},
		},
		{
			name: "failed probe reopens with a fresh timeout",
			cfg:  CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second, HalfOpenMax: 3},
			steps: []step{
				fail(StateOpen),
				{wait: 10 * time.Second, result: errTest, wantErr: errTest, wantCall: true, want: StateOpen},
				{wait: 5 * time.Second, wantErr: ErrCircuitOpen, want: StateOpen},
			},
		},
		{
			name: "several probes needed to close",
			cfg:  CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2},
			steps: []step{
				fail(StateOpen),
				{wait: time.Second, wantCall: true, want: StateHalfOpen},
				ok(StateClosed),
			},
		},
		{
			name: "cancellation is neutral",
			cfg:  CircuitBreakerConfig{MaxFailures: 1},
			steps: []step{
				{result: fmt.Errorf("upload: %w", context.Canceled), wantErr: context.Canceled, wantCall: true, want: StateClosed},
				fail(StateOpen),
			},
		},
		{
			name: "custom failure filter",
			cfg: CircuitBreakerConfig{MaxFailures: 1, IsFailure: func(err error) bool {
				return !errors.Is(err, errTest)
			}},
			steps: []step{fail(StateClosed), fail(StateClosed)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			tc.cfg.Name = "groq"
			tc.cfg.Now = clock.Now
			cb := NewCircuitBreaker(tc.cfg)

			for i, s := range tc.steps {
				clock.Advance(s.wait)
				called := false
				err := cb.Execute(func() error {
					called = true
					return s.result
				})
				if !errors.Is(err, s.wantErr) || (s.wantErr == nil && err != nil) {
					t.Fatalf("step %d: err = %v, want %v", i, err, s.wantErr)
				}
				if called != s.wantCall {
					t.Fatalf("step %d: called = %v, want %v", i, called, s.wantCall)
				}
				if got := cb.State(); got != s.want {
					t.Fatalf("step %d: state = %v, want %v", i, got, s.want)
				}
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "groq", MaxFailures: 1, ResetTimeout: time.Second, Now: clock.Now})
	openBreaker(t, cb, 1)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var got []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "groq",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          clock.Now,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errTest })
	clock.Advance(time.Second)
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errTest })
	cb.Reset()

	want := []string{
		"groq:closed->open",
		"groq:open->half-open",
		"groq:half-open->closed",
		"groq:closed->open",
		"groq:open->closed",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "openai", MaxFailures: 2, ResetTimeout: time.Hour})
	openBreaker(t, cb, 2)

	cb.Reset()
	if err := cb.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("after reset: err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("one failure after reset tripped the breaker")
	}
	if cb.Name() != "openai" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
		State(-1):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
