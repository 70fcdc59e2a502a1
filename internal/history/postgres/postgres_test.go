package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicechat/internal/history"
	"github.com/MrWong99/voicechat/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICECHAT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICECHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICECHAT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS exchanges"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	five := 5

	recs := []history.Record{
		{Timestamp: base, SessionID: "s1", UserID: "alice", UtteranceID: "u1", Duration: 2 * time.Second, Transcript: "hi", Reply: "hello", Remaining: &five},
		{Timestamp: base.Add(time.Second), SessionID: "s1", UserID: "bob", UtteranceID: "u2", Error: "Chat failed: 500"},
		{Timestamp: base.Add(2 * time.Second), SessionID: "s1", UserID: "alice", UtteranceID: "u3", Transcript: "bye"},
	}
	for _, r := range recs {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].UtteranceID != "u1" || got[1].UtteranceID != "u3" {
		t.Fatalf("alice = %+v", got)
	}
	if got[0].Remaining == nil || *got[0].Remaining != 5 || got[0].Duration != 2*time.Second {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Remaining != nil {
		t.Errorf("remaining = %v, want nil", *got[1].Remaining)
	}

	all, err := s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 2 || all[0].UtteranceID != "u2" || !all[0].Failed() {
		t.Errorf("limited = %+v", all)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for i := 0; i < 2; i++ {
		if err := postgres.Migrate(ctx, pool); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
}
