package kv

import (
	"context"
	"os"
	"testing"

	"github.com/dukerupert/weeme/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("WEEME_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WEEME_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	s := NewRedisStore(client, "weeme-test-"+uuid.NewString()+":", logging.Discard())
	t.Cleanup(func() {
		s.Close()
		client.Close()
	})
	return s
}

func TestRedisRoundTrip(t *testing.T) {
	s := setupRedisStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "user_1", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "user_1")
	if err != nil || !ok || v != "a" {
		t.Fatalf("get = (%q, %v, %v)", v, ok, err)
	}

	keys, err := s.Keys(ctx, "user_")
	if err != nil || len(keys) != 1 || keys[0] != "user_1" {
		t.Fatalf("keys = %v, %v", keys, err)
	}

	if err := s.Remove(ctx, "user_1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "user_1"); ok {
		t.Error("expected removed")
	}
}

func TestRedisWatchAcrossStores(t *testing.T) {
	s := setupRedisStore(t)
	other := NewRedisStore(s.client, s.prefix, logging.Discard())
	defer other.Close()

	changes := make(chan Change, 4)
	stop := other.Watch(func(c Change) { changes <- c })
	defer stop()

	// Give the subscription a moment to be established.
	if err := other.sub.Ping(context.Background()); err != nil {
		t.Fatalf("ping subscription: %v", err)
	}

	s.Set(WithOrigin(context.Background(), "proc-a"), "currentSessionUserId", "u1")

	c := waitChange(t, changes)
	if c.Key != "currentSessionUserId" || c.Origin != "proc-a" {
		t.Errorf("unexpected change %+v", c)
	}
}
