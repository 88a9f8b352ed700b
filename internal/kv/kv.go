// Package kv is the local key-value store: a flat namespace of string keys
// with change notifications, the server-side counterpart of browser storage.
package kv

import (
	"context"
	"log/slog"
	"sync"
)

// Store is a flat string key-value namespace. Writes are synchronous; a
// failed write (quota, I/O) is returned to the caller and never retried.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Watch(fn func(Change)) (stop func())
}

// Change describes one write. Origin identifies the writer so that a
// subscriber can skip its own writes, like a browser storage event.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

type originKey struct{}

// WithOrigin tags writes made with ctx as coming from origin.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin set by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

const watchBufferSize = 64

type watcher struct {
	fn func(Change)
	ch chan Change
}

// notifier fans changes out to watchers. Each watcher drains its own queue on
// a dedicated goroutine, so callbacks may call back into the store.
type notifier struct {
	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	logger   *slog.Logger
}

func newNotifier(logger *slog.Logger) notifier {
	return notifier{
		watchers: make(map[*watcher]struct{}),
		logger:   logger,
	}
}

func (n *notifier) watch(fn func(Change)) func() {
	w := &watcher{fn: fn, ch: make(chan Change, watchBufferSize)}

	n.mu.Lock()
	n.watchers[w] = struct{}{}
	n.mu.Unlock()

	go func() {
		for c := range w.ch {
			w.fn(c)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers, w)
			close(w.ch)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for w := range n.watchers {
		select {
		case w.ch <- c:
		default:
			n.logger.Warn("watcher queue full, dropping change", "key", c.Key)
		}
	}
}

func (n *notifier) watcherCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.watchers)
}
