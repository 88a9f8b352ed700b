package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukerupert/weeme/internal/model"
	"github.com/google/uuid"
)

// CurrentVersion is the layout written by this package: one enveloped record
// per account under user_<id>, plus userIndex and currentSessionUserId.
const CurrentVersion = 2

const (
	legacyUserKey  = "user"
	legacyUsersKey = "users"
)

// Migrate rewrites the legacy flat layout into the per-account layout. The
// legacy layout kept the signed-in account under "user" and every known
// account as an array under "users". Running Migrate again once the layout
// is current does nothing. It reports whether anything was rewritten.
func (s *Storage) Migrate(ctx context.Context) (bool, error) {
	version, err := s.storedVersion(ctx)
	if err != nil {
		return false, err
	}

	single, hasSingle, err := s.kv.Get(ctx, legacyUserKey)
	if err != nil {
		return false, fmt.Errorf("read legacy user: %w", err)
	}
	many, hasMany, err := s.kv.Get(ctx, legacyUsersKey)
	if err != nil {
		return false, fmt.Errorf("read legacy users: %w", err)
	}

	if version >= CurrentVersion && !hasSingle && !hasMany {
		return false, nil
	}

	index, err := s.UserIndex(ctx)
	if err != nil {
		return false, err
	}

	var legacy []model.Account
	if hasMany {
		var raws []json.RawMessage
		if err := json.Unmarshal([]byte(many), &raws); err != nil {
			s.logger.Warn("unreadable legacy users list, skipping", "error", err)
		}
		for _, raw := range raws {
			if a, ok := s.legacyAccount(raw); ok {
				legacy = append(legacy, a)
			}
		}
	}

	var current *model.Account
	if hasSingle {
		if a, ok := s.legacyAccount(json.RawMessage(single)); ok {
			current = &a
			legacy = append(legacy, a)
		}
	}

	for _, a := range legacy {
		if existing, ok := index[a.Username]; ok && existing != a.ID {
			// The index wins; the legacy copy is a stale duplicate.
			if current != nil && current.ID == a.ID {
				current.ID = existing
			}
			continue
		}
		if err := s.SaveUser(ctx, a); err != nil {
			return false, err
		}
		index[a.Username] = a.ID
	}

	if err := s.rewriteBareRecords(ctx); err != nil {
		return false, err
	}

	if err := s.SetUserIndex(ctx, index); err != nil {
		return false, err
	}

	if current != nil {
		sessionID, err := s.CurrentSessionID(ctx)
		if err != nil {
			return false, err
		}
		if sessionID == "" {
			if err := s.SetCurrentSession(ctx, current.ID); err != nil {
				return false, err
			}
		}
	}

	if hasSingle {
		if err := s.kv.Remove(ctx, legacyUserKey); err != nil {
			return false, fmt.Errorf("remove legacy user: %w", err)
		}
	}
	if hasMany {
		if err := s.kv.Remove(ctx, legacyUsersKey); err != nil {
			return false, fmt.Errorf("remove legacy users: %w", err)
		}
	}

	if err := s.kv.Set(ctx, KeyStorageVersion, strconv.Itoa(CurrentVersion)); err != nil {
		return false, fmt.Errorf("set storage version: %w", err)
	}

	s.logger.Info("migrated local storage", "from_version", version, "accounts", len(legacy))
	return true, nil
}

func (s *Storage) storedVersion(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.Get(ctx, KeyStorageVersion)
	if err != nil {
		return 0, fmt.Errorf("read storage version: %w", err)
	}
	if !ok {
		return 1, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 1, nil
	}
	return v, nil
}

func (s *Storage) legacyAccount(raw json.RawMessage) (model.Account, bool) {
	a, err := upgradeAccountV1(raw)
	if err != nil {
		s.logger.Warn("skipping unreadable legacy account", "error", err)
		return model.Account{}, false
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a, err = validateAccount(a)
	if err != nil {
		s.logger.Warn("skipping invalid legacy account", "error", err)
		return model.Account{}, false
	}
	return a, true
}

// rewriteBareRecords wraps per-account records that predate envelopes.
func (s *Storage) rewriteBareRecords(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, userKeyPrefix)
	if err != nil {
		return fmt.Errorf("list user records: %w", err)
	}
	for _, key := range keys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if _, version, err := unwrap(raw, typeAccount); err != nil || version == accountVersion {
			continue
		}
		a, err := decodeAccount(raw)
		if err != nil {
			s.logger.Warn("leaving unreadable record in place", "key", key, "error", err)
			continue
		}
		if err := s.SaveUser(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
