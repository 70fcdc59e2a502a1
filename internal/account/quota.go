package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicechat/internal/voiceapi"
)

// StatusFetcher reads a user's quota. [*Client] implements it.
type StatusFetcher interface {
	Status(ctx context.Context, uid string) (Status, error)
}

// QuotaCache holds the last known remaining-response count for one user.
// It is safe for concurrent use.
type QuotaCache struct {
	fetcher StatusFetcher
	uid     string
	now     func() time.Time

	mu        sync.Mutex
	remaining int
	plan      string
	known     bool
	updatedAt time.Time
}

// NewQuotaCache creates an empty cache for uid.
func NewQuotaCache(fetcher StatusFetcher, uid string) *QuotaCache {
	return &QuotaCache{fetcher: fetcher, uid: uid, now: time.Now}
}

// UserID returns the user the cache belongs to.
func (q *QuotaCache) UserID() string { return q.uid }

// Remaining returns the cached count. ok is false until the first refresh or
// update.
func (q *QuotaCache) Remaining() (n int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining, q.known
}

// Plan returns the plan reported by the last refresh.
func (q *QuotaCache) Plan() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.plan
}

// UpdatedAt returns when the cached value was last set.
func (q *QuotaCache) UpdatedAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updatedAt
}

// Refresh reads the status from the service and replaces the cached count.
// On error the cache is left unchanged.
func (q *QuotaCache) Refresh(ctx context.Context) (int, error) {
	s, err := q.fetcher.Status(ctx, q.uid)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	q.remaining = s.ResponsesRemaining
	q.plan = s.CurrentPlan
	q.known = true
	q.updatedAt = q.now()
	q.mu.Unlock()
	return s.ResponsesRemaining, nil
}

// Update stores a count pushed by the chat backend. It supersedes any value
// read earlier.
func (q *QuotaCache) Update(remaining int) {
	q.mu.Lock()
	q.remaining = remaining
	q.known = true
	q.updatedAt = q.now()
	q.mu.Unlock()
	slog.Debug("quota updated", "user_id", q.uid, "remaining", remaining)
}

// Check refreshes the quota and refuses when no responses are left. A failed
// refresh also refuses, since the quota cannot be confirmed.
func (q *QuotaCache) Check(ctx context.Context) error {
	n, err := q.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("account: check quota: %w", err)
	}
	if n <= 0 {
		return voiceapi.ErrQuotaExhausted
	}
	return nil
}
