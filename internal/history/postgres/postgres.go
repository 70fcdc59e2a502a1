// Package postgres stores exchange history in a PostgreSQL table through a
// [pgxpool.Pool].
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Append(ctx, rec)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicechat/internal/history"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    id                  BIGSERIAL    PRIMARY KEY,
    timestamp           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    session_id          TEXT         NOT NULL,
    user_id             TEXT         NOT NULL DEFAULT '',
    utterance_id        TEXT         NOT NULL,
    duration_ns         BIGINT       NOT NULL DEFAULT 0,
    transcript          TEXT         NOT NULL DEFAULT '',
    reply               TEXT         NOT NULL DEFAULT '',
    responses_remaining INTEGER,
    error               TEXT         NOT NULL DEFAULT '',
    audio_path          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_exchanges_user_timestamp
    ON exchanges (user_id, timestamp);
`

// Store is a PostgreSQL-backed history.Store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the exchanges table and its index if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlExchanges); err != nil {
		return fmt.Errorf("create exchanges: %w", err)
	}
	return nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, rec history.Record) error {
	const q = `
		INSERT INTO exchanges
		    (timestamp, session_id, user_id, utterance_id, duration_ns,
		     transcript, reply, responses_remaining, error, audio_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, q,
		ts,
		rec.SessionID,
		rec.UserID,
		rec.UtteranceID,
		rec.Duration.Nanoseconds(),
		rec.Transcript,
		rec.Reply,
		rec.Remaining,
		rec.Error,
		rec.AudioPath,
	)
	if err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	args := []any{userID}
	q := `
		SELECT timestamp, session_id, user_id, utterance_id, duration_ns,
		       transcript, reply, responses_remaining, error, audio_path
		FROM   exchanges
		WHERE  ($1 = '' OR user_id = $1)
		ORDER  BY timestamp DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	// Newest first from the query; callers expect oldest first.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectRecords(rows pgx.Rows) ([]history.Record, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r          history.Record
			durationNS int64
		)
		if err := row.Scan(
			&r.Timestamp,
			&r.SessionID,
			&r.UserID,
			&r.UtteranceID,
			&durationNS,
			&r.Transcript,
			&r.Reply,
			&r.Remaining,
			&r.Error,
			&r.AudioPath,
		); err != nil {
			return history.Record{}, err
		}
		r.Duration = time.Duration(durationNS)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	if recs == nil {
		recs = []history.Record{}
	}
	return recs, nil
}
