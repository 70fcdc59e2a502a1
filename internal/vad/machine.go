package vad

import (
	"fmt"
	"time"
)

const (
	// DefaultSilenceThreshold is the RMS level separating voice from silence.
	DefaultSilenceThreshold = 0.01

	// DefaultSilenceDuration is how long continuous silence must last during a
	// recording before the utterance is finalized.
	DefaultSilenceDuration = 4 * time.Second
)

// State is the voice activity state of a capture session.
type State int

const (
	// Idle waits for a reading above the threshold.
	Idle State = iota

	// Recording accumulates the current utterance.
	Recording

	// Finalizing waits for the transcription and chat exchange of the last
	// utterance. Readings are ignored until [Machine.Complete].
	Finalizing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Transition is the side effect a single reading asks the caller to perform.
type Transition int

const (
	// None leaves the caller's buffers as they are. While Recording the
	// block still belongs to the utterance.
	None Transition = iota

	// StartRecording means Idle → Recording: clear the utterance buffer and
	// start appending with the current block.
	StartRecording

	// Finalize means Recording → Finalizing: append the current block, then
	// materialize the utterance and hand it off.
	Finalize
)

// String returns a short name for logs and metrics.
func (t Transition) String() string {
	switch t {
	case None:
		return "none"
	case StartRecording:
		return "start_recording"
	case Finalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Config holds the detector thresholds.
type Config struct {
	// SilenceThreshold is the RMS boundary. Default: 0.01.
	SilenceThreshold float64

	// SilenceDuration is the continuous silence that ends a recording.
	// Default: 4s.
	SilenceDuration time.Duration
}

// WithDefaults returns cfg with zero fields replaced by defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	return cfg
}

// Machine is the voice activity state machine of one capture session.
//
// Readings are compared against the threshold as follows:
//
//   - Idle: rms > threshold starts a recording. A reading equal to the
//     threshold does not.
//   - Recording: rms < threshold is silence; the first silent reading starts
//     the silence timer, and once the timer has run for the configured
//     duration the recording is finalized. rms ≥ threshold (equality
//     included) is voice and clears the timer.
//   - Finalizing: readings are ignored. Speech during this phase is not
//     captured; a new recording can only start after [Machine.Complete].
//
// Times are supplied by the caller, normally the block's sample-clock
// timestamp, so the machine itself is deterministic. A Machine is owned by a
// single goroutine and is not safe for concurrent use.
type Machine struct {
	cfg   Config
	state State

	silenceStart time.Duration
	silenceSet   bool

	episodes int
}

// NewMachine returns a Machine in the Idle state.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg.WithDefaults()}
}

// Config returns the thresholds in effect.
func (m *Machine) Config() Config { return m.cfg }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Episodes returns how many recordings have been started.
func (m *Machine) Episodes() int { return m.episodes }

// SilenceTimer returns when the current run of silence began. ok is false
// while no silence is being timed.
func (m *Machine) SilenceTimer() (start time.Duration, ok bool) {
	return m.silenceStart, m.silenceSet
}

// Observe feeds one energy reading taken at time at and returns the
// transition it caused.
func (m *Machine) Observe(rms float64, at time.Duration) Transition {
	switch m.state {
	case Idle:
		if rms > m.cfg.SilenceThreshold {
			m.state = Recording
			m.clearTimer()
			m.episodes++
			return StartRecording
		}
		return None

	case Recording:
		if rms >= m.cfg.SilenceThreshold {
			m.clearTimer()
			return None
		}
		if !m.silenceSet {
			m.silenceStart = at
			m.silenceSet = true
			return None
		}
		if at-m.silenceStart >= m.cfg.SilenceDuration {
			m.state = Finalizing
			m.clearTimer()
			return Finalize
		}
		return None

	default:
		return None
	}
}

// Complete ends the Finalizing phase once the exchange for the finalized
// utterance has finished, whatever its outcome.
func (m *Machine) Complete() error {
	if m.state != Finalizing {
		return fmt.Errorf("vad: complete called in state %s", m.state)
	}
	m.state = Idle
	return nil
}

// Stop forces the machine back to Idle from any state and reports the state
// it was in.
func (m *Machine) Stop() State {
	prev := m.state
	m.state = Idle
	m.clearTimer()
	return prev
}

func (m *Machine) clearTimer() {
	m.silenceStart = 0
	m.silenceSet = false
}
