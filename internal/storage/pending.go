package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Pending lists local changes to one record collection that the remote
// database has not confirmed yet.
type Pending struct {
	// Unsynced holds IDs of records saved locally whose remote save has not
	// succeeded. The local copy of these records wins over the remote one.
	Unsynced []string `json:"unsynced,omitempty"`
	// Deleted holds IDs removed locally whose remote delete has not succeeded.
	Deleted []string `json:"deleted,omitempty"`
}

func (p Pending) Empty() bool {
	return len(p.Unsynced) == 0 && len(p.Deleted) == 0
}

func (p Pending) IsUnsynced(id string) bool { return slices.Contains(p.Unsynced, id) }

func (p Pending) IsDeleted(id string) bool { return slices.Contains(p.Deleted, id) }

func (p *Pending) MarkUnsynced(id string) {
	if !p.IsUnsynced(id) {
		p.Unsynced = append(p.Unsynced, id)
	}
}

func (p *Pending) MarkSynced(id string) {
	p.Unsynced = slices.DeleteFunc(p.Unsynced, func(s string) bool { return s == id })
}

func (p *Pending) MarkDeleted(id string) {
	p.MarkSynced(id)
	if !p.IsDeleted(id) {
		p.Deleted = append(p.Deleted, id)
	}
}

func (p *Pending) MarkDeleteSynced(id string) {
	p.Deleted = slices.DeleteFunc(p.Deleted, func(s string) bool { return s == id })
}

// LoadPending reads the pending changes stored under key. A missing or
// corrupt value reads as nothing pending.
func (s *Storage) LoadPending(ctx context.Context, key string) (Pending, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return Pending{}, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return Pending{}, nil
	}
	data, _, err := unwrap(raw, typePending)
	if err != nil {
		s.logger.Warn("invalid pending changes", "key", key, "error", err)
		return Pending{}, nil
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("invalid pending changes", "key", key, "error", err)
		return Pending{}, nil
	}
	return p, nil
}

// SavePending stores p under key, removing the key once nothing is pending.
func (s *Storage) SavePending(ctx context.Context, key string, p Pending) error {
	if p.Empty() {
		if err := s.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
		return nil
	}
	raw, err := wrap(typePending, listVersion, p)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
