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
	"github.com/dukerupert/weeme/internal/schedule"
	"github.com/dukerupert/weeme/internal/storage"
)

const (
	DefaultMaxTrackingCodes = 10
	DefaultTrackerURL       = "https://cdn.weeme.ai/tracker.js"
)

const snippetTemplate = `<!-- weeme.ai SEO Tracking -->
<script>
(function() {
  var script = document.createElement('script');
  script.src = '%s';
  script.setAttribute('data-site-id', '%s');
  script.setAttribute('data-user-id', '%s');
  document.head.appendChild(script);
})();
</script>`

type TrackingOptions struct {
	Max int
	// FixedScanInterval schedules every code LegacyInterval ahead whatever its frequency.
	FixedScanInterval bool
	TrackerURL        string
}

type Tracking struct {
	base
	store   *storage.Storage
	pending *syncLog
	opts    TrackingOptions
}

func NewTracking(store *storage.Storage, db remote.Database, queue Queue, logger *slog.Logger, opts TrackingOptions) *Tracking {
	if opts.Max <= 0 {
		opts.Max = DefaultMaxTrackingCodes
	}
	if opts.TrackerURL == "" {
		opts.TrackerURL = DefaultTrackerURL
	}
	return &Tracking{
		base:    newBase(db, queue, logger),
		store:   store,
		pending: &syncLog{store: store, key: storage.PendingTrackingKey, logger: logger},
		opts:    opts,
	}
}

// Snippet renders the embeddable script for a site.
func Snippet(trackerURL, siteToken, userID string) string {
	return fmt.Sprintf(snippetTemplate, trackerURL, siteToken, userID)
}

// List returns the account's tracking codes, newest first.
func (t *Tracking) List(ctx context.Context, userID string) ([]model.TrackingCode, error) {
	if userID == "" {
		return nil, ErrNoAccount
	}

	if t.remote.Enabled() {
		fetched, err := t.remote.GetTrackingCodes(ctx, userID)
		if err == nil {
			codes, err := t.mergeRemote(ctx, userID, fetched)
			if err != nil {
				return nil, fmt.Errorf("list tracking codes: %w", err)
			}
			if err := t.store.CacheTrackingCodes(ctx, userID, codes); err != nil {
				t.logger.Warn("refresh tracking cache", "user_id", userID, "error", err)
			}
			return codes, nil
		}
		t.logger.Warn("remote tracking codes unavailable, using local cache", "user_id", userID, "error", err)
	}

	codes, err := t.store.CachedTrackingCodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tracking codes: %w", err)
	}
	return codes, nil
}

// Create issues a new tracking code for websiteURL.
func (t *Tracking) Create(ctx context.Context, userID, websiteURL string, freq model.ScanFrequency) (model.TrackingCode, error) {
	if userID == "" {
		return model.TrackingCode{}, ErrNoAccount
	}
	websiteURL = strings.TrimSpace(websiteURL)
	if websiteURL == "" {
		return model.TrackingCode{}, ErrEmptyURL
	}
	if freq == "" {
		freq = model.FrequencyWeekly
	}

	now := t.now()
	next, err := t.nextScan(freq, now)
	if err != nil {
		return model.TrackingCode{}, err
	}

	cached, err := t.store.CachedTrackingCodes(ctx, userID)
	if err != nil {
		return model.TrackingCode{}, fmt.Errorf("create tracking code: %w", err)
	}
	if len(cached) >= t.opts.Max {
		return model.TrackingCode{}, fmt.Errorf("%w: at most %d per account", ErrTrackingLimit, t.opts.Max)
	}

	code := model.TrackingCode{
		ID:            uuid.NewString(),
		UserID:        userID,
		WebsiteURL:    websiteURL,
		Code:          Snippet(t.opts.TrackerURL, uuid.NewString(), userID),
		IsActive:      true,
		ScanFrequency: freq,
		LastScan:      now,
		NextScan:      next,
		CreatedAt:     now,
	}

	t.markUnsynced(ctx, code)
	if err := t.store.CacheTrackingCodes(ctx, userID, prepend(code, cached, 0)); err != nil {
		return model.TrackingCode{}, fmt.Errorf("create tracking code: %w", err)
	}
	t.pushSave(code)
	return code, nil
}

// markUnsynced must run before the cache write so a concurrent List keeps code.
func (t *Tracking) markUnsynced(ctx context.Context, code model.TrackingCode) {
	if t.remote.Enabled() {
		t.pending.update(ctx, code.UserID, func(p *storage.Pending) { p.MarkUnsynced(code.ID) })
	}
}

// pushSave queues the remote save of code and clears its pending mark on success.
func (t *Tracking) pushSave(code model.TrackingCode) {
	t.mirror("save_tracking_code", func(ctx context.Context) error {
		if err := t.remote.SaveTrackingCode(ctx, code); err != nil {
			return err
		}
		t.pending.update(ctx, code.UserID, func(p *storage.Pending) { p.MarkSynced(code.ID) })
		return nil
	})
}

// Delete removes the code locally right away. The remote delete is best-effort;
// until it succeeds the code is kept out of remote listings.
func (t *Tracking) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrNoAccount
	}

	if t.remote.Enabled() {
		t.pending.update(ctx, userID, func(p *storage.Pending) { p.MarkDeleted(id) })
	}
	t.mirror("delete_tracking_code", func(ctx context.Context) error {
		if err := t.remote.DeleteTrackingCode(ctx, id); err != nil {
			return err
		}
		t.pending.update(ctx, userID, func(p *storage.Pending) { p.MarkDeleteSynced(id) })
		return nil
	})

	cached, err := t.store.CachedTrackingCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete tracking code: %w", err)
	}
	kept := make([]model.TrackingCode, 0, len(cached))
	for _, c := range cached {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if err := t.store.CacheTrackingCodes(ctx, userID, kept); err != nil {
		return fmt.Errorf("delete tracking code: %w", err)
	}
	return nil
}

// MarkScanned moves the schedule of every active code for websiteURL forward
// from at. It returns how many codes were updated.
func (t *Tracking) MarkScanned(ctx context.Context, userID, websiteURL string, at time.Time) (int, error) {
	websiteURL = strings.TrimSpace(websiteURL)
	cached, err := t.store.CachedTrackingCodes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark scanned: %w", err)
	}

	var updated []model.TrackingCode
	for i, c := range cached {
		if !c.IsActive || !strings.EqualFold(c.WebsiteURL, websiteURL) {
			continue
		}
		next, err := t.nextScan(c.ScanFrequency, at)
		if err != nil {
			t.logger.Warn("skip tracking code with bad frequency", "id", c.ID, "error", err)
			continue
		}
		cached[i].LastScan = at
		cached[i].NextScan = next
		updated = append(updated, cached[i])
	}
	if len(updated) == 0 {
		return 0, nil
	}

	for _, c := range updated {
		t.markUnsynced(ctx, c)
	}
	if err := t.store.CacheTrackingCodes(ctx, userID, cached); err != nil {
		return 0, fmt.Errorf("mark scanned: %w", err)
	}
	for _, c := range updated {
		t.pushSave(c)
	}
	return len(updated), nil
}

// Due returns the active codes whose next scan is at or before now.
func (t *Tracking) Due(ctx context.Context, userID string, now time.Time) ([]model.TrackingCode, error) {
	codes, err := t.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	due := []model.TrackingCode{}
	for _, c := range codes {
		if c.IsActive && schedule.Due(c.NextScan, now) {
			due = append(due, c)
		}
	}
	return due, nil
}

// mergeRemote keeps local changes the remote database has not confirmed yet.
func (t *Tracking) mergeRemote(ctx context.Context, userID string, fetched []model.TrackingCode) ([]model.TrackingCode, error) {
	p, err := t.pending.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	cached, err := t.store.CachedTrackingCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return merge(fetched, cached, p,
		func(c model.TrackingCode) string { return c.ID },
		func(c model.TrackingCode) time.Time { return c.CreatedAt }), nil
}

func (t *Tracking) nextScan(freq model.ScanFrequency, from time.Time) (time.Time, error) {
	if t.opts.FixedScanInterval {
		if _, err := schedule.Interval(freq); err != nil {
			return time.Time{}, err
		}
		return from.Add(schedule.LegacyInterval), nil
	}
	return schedule.Next(freq, from)
}
