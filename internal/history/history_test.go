package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quailyquaily/wamorph/internal/kvstore"
)

func newTestStore(t *testing.T, limit int) *Store {
	t.Helper()
	s, err := New(Options{KV: kvstore.NewMemory(), Limit: limit})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestReadEmptyChat(t *testing.T) {
	s := newTestStore(t, 5)
	entries, err := s.Read(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Read() on new chat = %d entries, want 0", len(entries))
	}
}

func TestAppendPreservesOrderAndCap(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.Append(ctx, "c1", role, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		entries, err := s.Read(ctx, "c1")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if len(entries) > 4 {
			t.Fatalf("history length = %d after %d appends, want <= 4", len(entries), i+1)
		}
	}

	entries, _ := s.Read(ctx, "c1")
	want := []string{"m3", "m4", "m5", "m6"}
	if len(entries) != len(want) {
		t.Fatalf("history length = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Content != want[i] {
			t.Fatalf("entry[%d] = %q, want %q", i, e.Content, want[i])
		}
	}
}

func TestAppendIsolatesChats(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()

	if err := s.Append(ctx, "c1", "user", "hello"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	entries, _ := s.Read(ctx, "c2")
	if len(entries) != 0 {
		t.Fatalf("Read(c2) = %d entries, want 0", len(entries))
	}
}

func TestClearEmptiesHistory(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()

	s.Append(ctx, "c1", "user", "hello")         //nolint:errcheck
	s.Append(ctx, "c1", "assistant", "hi there") //nolint:errcheck
	if err := s.Clear(ctx, "c1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	entries, err := s.Read(ctx, "c1")
	if err != nil || len(entries) != 0 {
		t.Fatalf("Read() after Clear() = %v, %v, want empty", entries, err)
	}
}

func TestHistoryExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv := kvstore.NewMemory()
	kv.Now = func() time.Time { return now }
	s, err := New(Options{KV: kv, Limit: 5, TTL: time.Hour, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	s.Append(ctx, "c1", "user", "hello") //nolint:errcheck
	now = now.Add(2 * time.Hour)
	entries, err := s.Read(ctx, "c1")
	if err != nil || len(entries) != 0 {
		t.Fatalf("Read() after ttl = %v, %v, want empty", entries, err)
	}
}

func TestGroupLogTail(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := s.AppendGroup(ctx, "g1", "alice", fmt.Sprintf("g%d", i)); err != nil {
			t.Fatalf("AppendGroup() error = %v", err)
		}
	}
	entries, err := s.ReadGroup(ctx, "g1", 3)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	want := []string{"g3", "g4", "g5"}
	if len(entries) != len(want) {
		t.Fatalf("ReadGroup() length = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Content != want[i] || e.Sender != "alice" {
			t.Fatalf("group entry[%d] = %+v, want content %q", i, e, want[i])
		}
	}

	if err := s.ClearGroup(ctx, "g1"); err != nil {
		t.Fatalf("ClearGroup() error = %v", err)
	}
	entries, _ = s.ReadGroup(ctx, "g1", 10)
	if len(entries) != 0 {
		t.Fatalf("ReadGroup() after clear = %d entries, want 0", len(entries))
	}
}
