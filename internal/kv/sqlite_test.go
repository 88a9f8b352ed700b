package kv

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/weeme/internal/database"
	"github.com/dukerupert/weeme/internal/logging"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db, logging.Discard())
}

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}
	return Change{}
}

func TestGetMissing(t *testing.T) {
	s := setupSQLiteStore(t)

	v, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || v != "" {
		t.Errorf("got (%q, %v), want absent", v, ok)
	}
}

func TestSetGetOverwrite(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "greeting", "merhaba"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, ok, err := s.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || v != "merhaba" {
		t.Errorf("got (%q, %v), want merhaba", v, ok)
	}
}

func TestRemove(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", "v")
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key removed")
	}
	// Removing an absent key is not an error.
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestKeysPrefix(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	for _, k := range []string{"user_b", "user_a", "userIndex", "reports_a"} {
		s.Set(ctx, k, "x")
	}

	keys, err := s.Keys(ctx, "user_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "user_a" || keys[1] != "user_b" {
		t.Errorf("keys = %v, want [user_a user_b]", keys)
	}

	all, _ := s.Keys(ctx, "")
	if len(all) != 4 {
		t.Errorf("expected 4 keys with empty prefix, got %v", all)
	}
}

func TestWatchReceivesChangesWithOrigin(t *testing.T) {
	s := setupSQLiteStore(t)
	changes := make(chan Change, 4)
	stop := s.Watch(func(c Change) { changes <- c })
	defer stop()

	ctx := WithOrigin(context.Background(), "tab-1")
	s.Set(ctx, "k", "v")
	s.Remove(ctx, "k")

	c := waitChange(t, changes)
	if c.Key != "k" || c.Value != "v" || c.Removed || c.Origin != "tab-1" {
		t.Errorf("unexpected set change: %+v", c)
	}
	c = waitChange(t, changes)
	if c.Key != "k" || !c.Removed {
		t.Errorf("unexpected remove change: %+v", c)
	}
}

func TestRemoveAbsentDoesNotNotify(t *testing.T) {
	s := setupSQLiteStore(t)
	changes := make(chan Change, 1)
	stop := s.Watch(func(c Change) { changes <- c })
	defer stop()

	s.Remove(context.Background(), "ghost")

	select {
	case c := <-changes:
		t.Errorf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopWatch(t *testing.T) {
	s := setupSQLiteStore(t)
	stop := s.Watch(func(Change) {})

	if got := s.watcherCount(); got != 1 {
		t.Fatalf("watchers = %d, want 1", got)
	}
	stop()
	stop() // second call is a no-op
	if got := s.watcherCount(); got != 0 {
		t.Fatalf("watchers = %d, want 0", got)
	}
	// Publishing with no watchers must not panic.
	s.Set(context.Background(), "k", "v")
}

func TestOriginFromEmpty(t *testing.T) {
	if got := OriginFrom(context.Background()); got != "" {
		t.Errorf("origin = %q, want empty", got)
	}
}
