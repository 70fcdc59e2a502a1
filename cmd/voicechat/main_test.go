package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/voicechat/internal/account"
	"github.com/MrWong99/voicechat/internal/history"
)

func TestEllipsize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"whisper", 19, "whisper"},
		{"exactly-nineteen-ch", 19, "exactly-nineteen-ch"},
		{"elevenlabs / eleven_flash_v2_5", 19, "elevenlabs / eleve…"},
		{"größenwahn-übersetzer / ü", 19, "größenwahn-überset…"},
		{"日本語の音声認識モデル / 大きい版です", 10, "日本語の音声認識モ…"},
	}
	for _, tt := range tests {
		got := ellipsize(tt.in, tt.width)
		if got != tt.want {
			t.Errorf("ellipsize(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("ellipsize(%q, %d) produced invalid UTF-8", tt.in, tt.width)
		}
		if n := utf8.RuneCountInString(got); n > tt.width {
			t.Errorf("ellipsize(%q, %d) is %d runes wide", tt.in, tt.width, n)
		}
	}
}

func TestWriteHistory(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 5, 1, 12, 0, 3, 0, time.UTC)
	recs := []history.Record{
		{Timestamp: at, Duration: 3200 * time.Millisecond, Transcript: "what's the weather", Reply: "Sunny."},
		{Timestamp: at.Add(time.Minute), Duration: time.Second, Error: "Chat failed: 500"},
	}

	var buf bytes.Buffer
	writeHistory(&buf, recs)
	out := buf.String()

	for _, want := range []string{
		at.Local().Format(time.DateTime) + "    3.2s  what's the weather\n",
		"    > Sunny.\n",
		"    1.0s  (nothing heard)\n",
		"    ! Chat failed: 500\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	writeHistory(&buf, nil)
	if buf.String() != "No exchanges recorded.\n" {
		t.Errorf("empty history = %q", buf.String())
	}
}

// The -history output for records read back from a file store.
func TestRecentHistoryFromFileStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := history.NewFileStore(filepath.Join(t.TempDir(), "history.jsonl"))
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three"} {
		rec := history.Record{Timestamp: at.Add(time.Duration(i) * time.Second), UserID: "alice", Transcript: text, Reply: "ok"}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	recs, err := store.Recent(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}

	var buf bytes.Buffer
	writeHistory(&buf, recs)
	out := buf.String()
	if strings.Contains(out, "one") || !strings.Contains(out, "two") || !strings.Contains(out, "three") {
		t.Errorf("want the last two exchanges:\n%s", out)
	}
}

type stubFetcher struct{ status account.Status }

func (f stubFetcher) Status(context.Context, string) (account.Status, error) { return f.status, nil }

func TestWriteAccountStatus(t *testing.T) {
	t.Parallel()
	q := account.NewQuotaCache(stubFetcher{account.Status{ResponsesRemaining: 7, CurrentPlan: "free"}}, "u-1")
	before := time.Now().Truncate(time.Second)
	if _, err := q.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var buf bytes.Buffer
	writeAccountStatus(&buf, q)
	out := buf.String()
	for _, want := range []string{"User:      u-1\n", "Remaining: 7 responses\n", "Checked:   "} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	line := out[strings.Index(out, "Checked:   ")+len("Checked:   "):]
	checked, err := time.ParseInLocation(time.DateTime, strings.TrimSpace(line), time.Local)
	if err != nil {
		t.Fatalf("parse checked time: %v", err)
	}
	if checked.Before(before) || checked.After(time.Now()) {
		t.Errorf("checked = %v, want the refresh time", checked)
	}
}
