// Package history keeps an append-only log of voice exchanges: what was
// heard, what was answered, and how it ended. Two stores are provided: a
// JSON-lines file for single-user setups and a PostgreSQL table (package
// history/postgres) for shared deployments.
package history

import (
	"context"
	"time"
)

// Record is one finished exchange.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	UtteranceID string    `json:"utterance_id"`

	// Duration is the length of the recorded utterance.
	Duration time.Duration `json:"duration_ns"`

	Transcript string `json:"transcript,omitempty"`
	Reply      string `json:"reply,omitempty"`

	// Remaining is the quota reported with the reply, nil when unknown.
	Remaining *int `json:"responses_remaining,omitempty"`

	// Error holds the user-facing failure message of a failed exchange.
	Error string `json:"error,omitempty"`

	// AudioPath is where the synthesized reply was written, if anywhere.
	AudioPath string `json:"audio_path,omitempty"`
}

// Failed reports whether the exchange ended in an error.
func (r Record) Failed() bool { return r.Error != "" }

// Store persists exchange records. Implementations are safe for concurrent use.
type Store interface {
	// Append adds rec to the log.
	Append(ctx context.Context, rec Record) error

	// Recent returns up to limit records for userID, oldest first. An empty
	// userID matches every user; limit ≤ 0 means no limit.
	Recent(ctx context.Context, userID string, limit int) ([]Record, error)

	// Close releases the store's resources.
	Close() error
}
