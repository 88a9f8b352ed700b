// Package storage is the typed layer over the local key-value store: account
// records, the username index, the current-session pointer and per-account
// record caches.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/model"
)

const (
	KeyUserIndex      = "userIndex"
	KeyCurrentSession = "currentSessionUserId"
	KeyStorageVersion = "storageVersion"

	userKeyPrefix          = "user_"
	reportsKeyPrefix       = "reports_"
	trackingCodesKeyPrefix = "trackingCodes_"
	pendingReportsPrefix   = "unsyncedReports_"
	pendingTrackingPrefix  = "unsyncedTrackingCodes_"
)

func UserKey(id string) string { return userKeyPrefix + id }

func ReportsKey(userID string) string { return reportsKeyPrefix + userID }

func TrackingKey(userID string) string { return trackingCodesKeyPrefix + userID }

func PendingReportsKey(userID string) string { return pendingReportsPrefix + userID }

func PendingTrackingKey(userID string) string { return pendingTrackingPrefix + userID }

// IsAccountKey reports whether a change to key can affect the current session.
func IsAccountKey(key string) bool {
	return key == KeyCurrentSession || key == KeyUserIndex || strings.HasPrefix(key, userKeyPrefix)
}

type Storage struct {
	kv     kv.Store
	logger *slog.Logger
}

func New(store kv.Store, logger *slog.Logger) *Storage {
	return &Storage{kv: store, logger: logger}
}

// KV exposes the underlying store, mainly for watching changes.
func (s *Storage) KV() kv.Store {
	return s.kv
}

// UserIndex returns the username -> account ID index. A missing or corrupt
// index reads as empty.
func (s *Storage) UserIndex(ctx context.Context) (map[string]string, error) {
	raw, ok, err := s.kv.Get(ctx, KeyUserIndex)
	if err != nil {
		return nil, fmt.Errorf("load user index: %w", err)
	}
	index := make(map[string]string)
	if !ok {
		return index, nil
	}
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		s.logger.Warn("corrupt user index, starting empty", "error", err)
		return make(map[string]string), nil
	}
	return index, nil
}

func (s *Storage) SetUserIndex(ctx context.Context, index map[string]string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal user index: %w", err)
	}
	if err := s.kv.Set(ctx, KeyUserIndex, string(data)); err != nil {
		return fmt.Errorf("save user index: %w", err)
	}
	return nil
}

// LoadUser returns the account stored under id, or nil when it is missing or
// fails validation.
func (s *Storage) LoadUser(ctx context.Context, id string) (*model.Account, error) {
	if id == "" {
		return nil, nil
	}
	raw, ok, err := s.kv.Get(ctx, UserKey(id))
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	a, err := decodeAccount(raw)
	if err != nil {
		s.logger.Warn("invalid account record", "id", id, "error", err)
		return nil, nil
	}
	return &a, nil
}

func (s *Storage) SaveUser(ctx context.Context, a model.Account) error {
	raw, err := encodeAccount(a)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, UserKey(a.ID), raw); err != nil {
		return fmt.Errorf("save user %s: %w", a.ID, err)
	}
	return nil
}

// CurrentSessionID returns the session pointer, "" when nobody is signed in.
func (s *Storage) CurrentSessionID(ctx context.Context) (string, error) {
	id, _, err := s.kv.Get(ctx, KeyCurrentSession)
	if err != nil {
		return "", fmt.Errorf("load session pointer: %w", err)
	}
	return id, nil
}

// SetCurrentSession points the session at id; an empty id clears it.
func (s *Storage) SetCurrentSession(ctx context.Context, id string) error {
	if id == "" {
		if err := s.kv.Remove(ctx, KeyCurrentSession); err != nil {
			return fmt.Errorf("clear session pointer: %w", err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, KeyCurrentSession, id); err != nil {
		return fmt.Errorf("set session pointer: %w", err)
	}
	return nil
}

// LoadCurrentUser resolves the session pointer to an account. A pointer to a
// missing account reads as no session.
func (s *Storage) LoadCurrentUser(ctx context.Context) (*model.Account, error) {
	id, err := s.CurrentSessionID(ctx)
	if err != nil {
		return nil, err
	}
	return s.LoadUser(ctx, id)
}

// Accounts returns every account reachable through the index, skipping
// dangling entries.
func (s *Storage) Accounts(ctx context.Context) ([]model.Account, error) {
	index, err := s.UserIndex(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]model.Account, 0, len(index))
	for _, id := range index {
		a, err := s.LoadUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			accounts = append(accounts, *a)
		}
	}
	return accounts, nil
}
