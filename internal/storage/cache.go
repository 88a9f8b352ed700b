package storage

import (
	"context"
	"fmt"

	"github.com/dukerupert/weeme/internal/model"
)

// The record caches are fallback copies of what the remote database holds.
// A corrupt cache reads as empty rather than failing the caller.

func (s *Storage) CachedReports(ctx context.Context, userID string) ([]model.Report, error) {
	return loadList[model.Report](ctx, s, ReportsKey(userID), typeReports)
}

func (s *Storage) CacheReports(ctx context.Context, userID string, reports []model.Report) error {
	return saveList(ctx, s, ReportsKey(userID), typeReports, reports)
}

func (s *Storage) CachedTrackingCodes(ctx context.Context, userID string) ([]model.TrackingCode, error) {
	return loadList[model.TrackingCode](ctx, s, TrackingKey(userID), typeTrackingCodes)
}

func (s *Storage) CacheTrackingCodes(ctx context.Context, userID string, codes []model.TrackingCode) error {
	return saveList(ctx, s, TrackingKey(userID), typeTrackingCodes, codes)
}

func loadList[T any](ctx context.Context, s *Storage, key, typ string) ([]T, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return []T{}, nil
	}
	items, err := decodeList[T](raw, typ)
	if err != nil {
		s.logger.Warn("invalid cached list", "key", key, "error", err)
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func saveList[T any](ctx context.Context, s *Storage, key, typ string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := wrap(typ, listVersion, items)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
