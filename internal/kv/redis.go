package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps keys in Redis under a prefix. Writes are announced on a
// pub/sub channel, so separate processes sharing the instance see each
// other's changes.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
	notifier

	subOnce sync.Once
	sub     *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRedisStore(client *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "weeme:"
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		channel:  prefix + "changes",
		notifier: newNotifier(logger),
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.announce(ctx, Change{Key: key, Value: value, Origin: OriginFrom(ctx)})
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	if n > 0 {
		s.announce(ctx, Change{Key: key, Removed: true, Origin: OriginFrom(ctx)})
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Watch subscribes to the change channel on first use. Changes written by
// this process arrive through the same channel as everyone else's.
func (s *RedisStore) Watch(fn func(Change)) func() {
	s.subOnce.Do(s.subscribe)
	return s.watch(fn)
}

// Close stops the subscription goroutine.
func (s *RedisStore) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := s.sub.Close()
	<-s.done
	return err
}

func (s *RedisStore) subscribe() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sub = s.client.Subscribe(ctx, s.channel)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ch := s.sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.logger.Warn("decode change", "error", err)
					continue
				}
				s.publish(c)
			}
		}
	}()
}

func (s *RedisStore) announce(ctx context.Context, c Change) {
	data, err := json.Marshal(c)
	if err != nil {
		s.logger.Error("marshal change", "error", err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.logger.Warn("publish change", "key", c.Key, "error", err)
	}
}
