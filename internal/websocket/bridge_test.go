package websocket

import (
	"context"
	"testing"

	"github.com/dukerupert/weeme/internal/database"
	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/logging"
	"github.com/dukerupert/weeme/internal/session"
	"github.com/dukerupert/weeme/internal/storage"
)

func setupKV(t *testing.T) *kv.SQLiteStore {
	t.Helper()
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return kv.NewSQLiteStore(db, logging.Discard())
}

func TestForwardSession(t *testing.T) {
	store := setupKV(t)
	mgr := session.NewManager(storage.New(store, logging.Discard()), nil, nil, logging.Discard(), session.Options{AllowImplicitSignup: true})
	ctx := context.Background()
	if err := mgr.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer mgr.Close()

	hub := NewHub(logging.Discard())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)
	stop := ForwardSession(hub, mgr)
	defer stop()

	if _, err := mgr.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	got := receive(t, c)
	acct, _ := mgr.Current()
	if got.Type != "session_changed" || got.ID != acct.ID {
		t.Errorf("login message = %+v", got)
	}

	if err := mgr.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := receive(t, c); got.Type != "session_signed_out" {
		t.Errorf("logout message = %+v", got)
	}
}

func TestForwardRecords(t *testing.T) {
	store := setupKV(t)
	hub := NewHub(logging.Discard())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)
	stop := ForwardRecords(hub, store)
	defer stop()

	ctx := context.Background()
	store.Set(ctx, "unrelated", "x")
	store.Set(ctx, storage.ReportsKey("acc-1"), "[]")
	store.Set(ctx, storage.TrackingKey("acc-2"), "[]")

	if got := receive(t, c); got.Type != "reports_updated" || got.ID != "acc-1" {
		t.Errorf("first message = %+v", got)
	}
	if got := receive(t, c); got.Type != "tracking_codes_updated" || got.ID != "acc-2" {
		t.Errorf("second message = %+v", got)
	}
}
