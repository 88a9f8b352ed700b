// Package records keeps each account's SEO reports and tracking codes. Reads
// prefer the remote database and fall back to the local cache; writes land in
// the local cache immediately and reach the remote database through the outbox.
//
// Until the outbox confirms a write, the local change is recorded as pending.
// Remote reads are merged with the pending changes, so a record saved or
// deleted locally stays that way whatever the remote database still returns.
package records

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/weeme/internal/outbox"
	"github.com/dukerupert/weeme/internal/remote"
	"github.com/dukerupert/weeme/internal/storage"
)

var (
	ErrNoAccount     = errors.New("no account")
	ErrEmptyURL      = errors.New("website url is required")
	ErrTrackingLimit = errors.New("tracking code limit reached")
)

// Queue runs remote writes off the caller's path.
type Queue interface {
	Enqueue(name string, fn outbox.Job) bool
}

type base struct {
	remote remote.Database
	queue  Queue
	logger *slog.Logger
	now    func() time.Time
}

func newBase(db remote.Database, queue Queue, logger *slog.Logger) base {
	if db == nil {
		db = remote.Disabled{}
	}
	return base{
		remote: db,
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// mirror queues fn when the remote database is in use.
func (b base) mirror(name string, fn outbox.Job) {
	if b.queue == nil || !b.remote.Enabled() {
		return
	}
	b.queue.Enqueue(name, fn)
}

func prepend[T any](item T, list []T, max int) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, item)
	out = append(out, list...)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// syncLog tracks the pending changes of one record collection per account.
type syncLog struct {
	mu     sync.Mutex
	store  *storage.Storage
	key    func(userID string) string
	logger *slog.Logger
}

func (l *syncLog) load(ctx context.Context, userID string) (storage.Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.LoadPending(ctx, l.key(userID))
}

// update applies fn to the account's pending changes. Failures are logged:
// the record itself is already stored.
func (l *syncLog) update(ctx context.Context, userID string, fn func(*storage.Pending)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.key(userID)
	p, err := l.store.LoadPending(ctx, key)
	if err == nil {
		fn(&p)
		err = l.store.SavePending(ctx, key, p)
	}
	if err != nil {
		l.logger.Warn("update pending changes", "user_id", userID, "error", err)
	}
}

// merge combines a remote listing with the local cache. Deleted IDs are
// dropped, unsynced local records replace or join the remote rows, and the
// result is ordered newest first.
func merge[T any](remoteItems, local []T, p storage.Pending, id func(T) string, created func(T) time.Time) []T {
	unsynced := make(map[string]T)
	for _, item := range local {
		if p.IsUnsynced(id(item)) {
			unsynced[id(item)] = item
		}
	}

	out := make([]T, 0, len(remoteItems)+len(unsynced))
	seen := make(map[string]bool, len(remoteItems))
	for _, item := range remoteItems {
		k := id(item)
		if p.IsDeleted(k) || seen[k] {
			continue
		}
		seen[k] = true
		if mine, ok := unsynced[k]; ok {
			item = mine
		}
		out = append(out, item)
	}
	for _, item := range local {
		k := id(item)
		if _, ok := unsynced[k]; ok && !seen[k] && !p.IsDeleted(k) {
			seen[k] = true
			out = append(out, item)
		}
	}

	slices.SortStableFunc(out, func(a, b T) int {
		return created(b).Compare(created(a))
	})
	return out
}
