package websocket

import (
	"strings"

	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/session"
	"github.com/dukerupert/weeme/internal/storage"
)

// SessionSource is anything that reports session changes.
type SessionSource interface {
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// ForwardSession broadcasts every session change to connected tabs.
func ForwardSession(hub *Hub, src SessionSource) (stop func()) {
	return src.Subscribe(func(e session.Event) {
		if e.Account == nil {
			hub.Broadcast(NewMessage("session", "signed_out", "", nil))
			return
		}
		hub.Broadcast(NewMessage("session", "changed", e.Account.ID, e.Account))
	})
}

// ForwardRecords tells tabs to reload an account's reports or tracking codes
// whenever the cached list changes, whoever wrote it.
func ForwardRecords(hub *Hub, store kv.Store) (stop func()) {
	return store.Watch(func(c kv.Change) {
		if userID, ok := strings.CutPrefix(c.Key, storage.ReportsKey("")); ok {
			hub.Broadcast(NewMessage("reports", "updated", userID, nil))
			return
		}
		if userID, ok := strings.CutPrefix(c.Key, storage.TrackingKey("")); ok {
			hub.Broadcast(NewMessage("tracking_codes", "updated", userID, nil))
		}
	})
}
