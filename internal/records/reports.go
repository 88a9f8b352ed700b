package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/remote"
	"github.com/dukerupert/weeme/internal/storage"
)

// DefaultMaxReports caps the local report history per account.
const DefaultMaxReports = 50

type Reports struct {
	base
	store   *storage.Storage
	pending *syncLog
	max     int
}

func NewReports(store *storage.Storage, db remote.Database, queue Queue, logger *slog.Logger, max int) *Reports {
	if max <= 0 {
		max = DefaultMaxReports
	}
	return &Reports{
		base:    newBase(db, queue, logger),
		store:   store,
		pending: &syncLog{store: store, key: storage.PendingReportsKey, logger: logger},
		max:     max,
	}
}

// List returns the account's reports, newest first.
func (r *Reports) List(ctx context.Context, userID string) ([]model.Report, error) {
	if userID == "" {
		return nil, ErrNoAccount
	}

	if r.remote.Enabled() {
		fetched, err := r.remote.GetReports(ctx, userID)
		if err == nil {
			reports, err := r.mergeRemote(ctx, userID, fetched)
			if err != nil {
				return nil, fmt.Errorf("list reports: %w", err)
			}
			if err := r.store.CacheReports(ctx, userID, reports); err != nil {
				r.logger.Warn("refresh report cache", "user_id", userID, "error", err)
			}
			return reports, nil
		}
		r.logger.Warn("remote reports unavailable, using local cache", "user_id", userID, "error", err)
	}

	reports, err := r.store.CachedReports(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// Create records a finished scan for the account.
func (r *Reports) Create(ctx context.Context, userID, websiteURL string, result model.ScanResult) (model.Report, error) {
	if userID == "" {
		return model.Report{}, ErrNoAccount
	}
	websiteURL = strings.TrimSpace(websiteURL)
	if websiteURL == "" {
		return model.Report{}, ErrEmptyURL
	}

	report := model.Report{
		ID:          uuid.NewString(),
		UserID:      userID,
		WebsiteURL:  websiteURL,
		Score:       result.Score,
		Positives:   model.NonNilStrings(result.Positives),
		Negatives:   model.NonNilStrings(result.Negatives),
		Suggestions: model.NonNilStrings(result.Suggestions),
		ReportData:  result.ReportData,
		CreatedAt:   r.now(),
	}

	cached, err := r.store.CachedReports(ctx, userID)
	if err != nil {
		return model.Report{}, fmt.Errorf("create report: %w", err)
	}
	if r.remote.Enabled() {
		r.pending.update(ctx, userID, func(p *storage.Pending) { p.MarkUnsynced(report.ID) })
	}
	if err := r.store.CacheReports(ctx, userID, prepend(report, cached, r.max)); err != nil {
		return model.Report{}, fmt.Errorf("create report: %w", err)
	}

	r.mirror("save_report", func(ctx context.Context) error {
		if err := r.remote.SaveReport(ctx, report); err != nil {
			return err
		}
		r.pending.update(ctx, userID, func(p *storage.Pending) { p.MarkSynced(report.ID) })
		return nil
	})
	return report, nil
}

// mergeRemote keeps reports the remote database has not confirmed yet.
func (r *Reports) mergeRemote(ctx context.Context, userID string, fetched []model.Report) ([]model.Report, error) {
	p, err := r.pending.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	cached, err := r.store.CachedReports(ctx, userID)
	if err != nil {
		return nil, err
	}
	reports := merge(fetched, cached, p,
		func(rep model.Report) string { return rep.ID },
		func(rep model.Report) time.Time { return rep.CreatedAt })
	if len(reports) > r.max {
		reports = reports[:r.max]
	}
	return reports, nil
}
