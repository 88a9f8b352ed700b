package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/weeme/internal/logging"
	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/remote"
	"github.com/dukerupert/weeme/internal/storage"
)

var fixedNow = time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

func newTracking(t *testing.T, db remote.Database, queue Queue, opts TrackingOptions) *Tracking {
	t.Helper()
	tr := NewTracking(setupStore(t), db, queue, logging.Discard(), opts)
	tr.now = func() time.Time { return fixedNow }
	return tr
}

func TestTrackingCreate(t *testing.T) {
	tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{})
	ctx := context.Background()

	code, err := tr.Create(ctx, "acc-1", " https://site.example ", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if code.WebsiteURL != "https://site.example" {
		t.Errorf("url = %q", code.WebsiteURL)
	}
	if !code.IsActive {
		t.Error("new code should be active")
	}
	if code.ScanFrequency != model.FrequencyWeekly {
		t.Errorf("default frequency = %q", code.ScanFrequency)
	}
	if !code.LastScan.Equal(fixedNow) || !code.CreatedAt.Equal(fixedNow) {
		t.Errorf("timestamps = %v / %v", code.LastScan, code.CreatedAt)
	}
	if want := fixedNow.AddDate(0, 0, 7); !code.NextScan.Equal(want) {
		t.Errorf("next scan = %v, want %v", code.NextScan, want)
	}
	if !strings.Contains(code.Code, "data-user-id', 'acc-1'") {
		t.Errorf("snippet missing user id:\n%s", code.Code)
	}
	if !strings.Contains(code.Code, DefaultTrackerURL) {
		t.Errorf("snippet missing tracker url:\n%s", code.Code)
	}
}

func TestTrackingSnippetTokensAreFresh(t *testing.T) {
	tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{})
	ctx := context.Background()

	a, _ := tr.Create(ctx, "acc-1", "https://a.example", model.FrequencyWeekly)
	b, _ := tr.Create(ctx, "acc-1", "https://a.example", model.FrequencyWeekly)
	if a.Code == b.Code {
		t.Error("two codes for the same site share a snippet")
	}
}

func TestTrackingNextScanFollowsFrequency(t *testing.T) {
	tests := []struct {
		freq model.ScanFrequency
		want time.Time
	}{
		{model.FrequencyWeekly, fixedNow.AddDate(0, 0, 7)},
		{model.FrequencyBiweekly, fixedNow.AddDate(0, 0, 14)},
		{model.FrequencyMonthly, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{})
		code, err := tr.Create(context.Background(), "acc-1", "https://a.example", tt.freq)
		if err != nil {
			t.Fatalf("create %s: %v", tt.freq, err)
		}
		if !code.NextScan.Equal(tt.want) {
			t.Errorf("%s next scan = %v, want %v", tt.freq, code.NextScan, tt.want)
		}
	}
}

func TestTrackingFixedScanInterval(t *testing.T) {
	for _, freq := range []model.ScanFrequency{model.FrequencyWeekly, model.FrequencyBiweekly, model.FrequencyMonthly} {
		tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{FixedScanInterval: true})
		code, err := tr.Create(context.Background(), "acc-1", "https://a.example", freq)
		if err != nil {
			t.Fatalf("create %s: %v", freq, err)
		}
		if want := fixedNow.Add(7 * 24 * time.Hour); !code.NextScan.Equal(want) {
			t.Errorf("%s next scan = %v, want %v", freq, code.NextScan, want)
		}
	}
}

func TestTrackingRejectsBadInput(t *testing.T) {
	tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{})
	ctx := context.Background()

	if _, err := tr.Create(ctx, "acc-1", "   ", model.FrequencyWeekly); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("blank url err = %v", err)
	}
	if _, err := tr.Create(ctx, "acc-1", "https://a.example", "hourly"); err == nil {
		t.Error("expected error for unknown frequency")
	}
	if _, err := tr.Create(ctx, "", "https://a.example", model.FrequencyWeekly); !errors.Is(err, ErrNoAccount) {
		t.Errorf("no account err = %v", err)
	}
}

func TestTrackingLimit(t *testing.T) {
	tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{Max: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := tr.Create(ctx, "acc-1", fmt.Sprintf("https://%d.example", i), ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := tr.Create(ctx, "acc-1", "https://3.example", ""); !errors.Is(err, ErrTrackingLimit) {
		t.Fatalf("third create err = %v, want ErrTrackingLimit", err)
	}
	if _, err := tr.Create(ctx, "acc-2", "https://3.example", ""); err != nil {
		t.Errorf("limit is per account: %v", err)
	}
}

func TestTrackingDeleteIsOptimistic(t *testing.T) {
	fake := &fakeRemote{}
	queue := setupQueue(t)
	tr := newTracking(t, fake, queue, TrackingOptions{})
	ctx := context.Background()

	keep, _ := tr.Create(ctx, "acc-1", "https://keep.example", "")
	drop, _ := tr.Create(ctx, "acc-1", "https://drop.example", "")
	flush(t, queue)

	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()

	if err := tr.Delete(ctx, "acc-1", drop.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	flush(t, queue)

	fake.mu.Lock()
	deleted := append([]string(nil), fake.deleted...)
	fake.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != drop.ID {
		t.Errorf("remote delete attempts = %v", deleted)
	}

	// Remote is still failing, so List falls back to the local cache.
	codes, err := tr.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(codes) != 1 || codes[0].ID != keep.ID {
		t.Errorf("codes after delete = %+v", codes)
	}
}

func TestTrackingDisabledRemoteFallsBack(t *testing.T) {
	tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{})
	ctx := context.Background()

	code, err := tr.Create(ctx, "acc-1", "https://a.example", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	codes, err := tr.List(ctx, "acc-1")
	if err != nil || len(codes) != 1 || codes[0].ID != code.ID {
		t.Fatalf("list = %+v, %v", codes, err)
	}
	if err := tr.Delete(ctx, "acc-1", code.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	codes, _ = tr.List(ctx, "acc-1")
	if len(codes) != 0 {
		t.Errorf("codes after delete = %+v", codes)
	}
}

func TestTrackingMarkScannedAndDue(t *testing.T) {
	tr := newTracking(t, remote.Disabled{}, nil, TrackingOptions{})
	ctx := context.Background()

	code, _ := tr.Create(ctx, "acc-1", "https://a.example", model.FrequencyWeekly)
	tr.Create(ctx, "acc-1", "https://b.example", model.FrequencyWeekly)

	due, err := tr.Due(ctx, "acc-1", fixedNow.AddDate(0, 0, 8))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d codes, want 2", len(due))
	}

	scannedAt := fixedNow.AddDate(0, 0, 8)
	n, err := tr.MarkScanned(ctx, "acc-1", "https://A.example", scannedAt)
	if err != nil || n != 1 {
		t.Fatalf("mark scanned = %d, %v", n, err)
	}
	due, _ = tr.Due(ctx, "acc-1", scannedAt)
	if len(due) != 1 || due[0].ID == code.ID {
		t.Errorf("after scan due = %+v", due)
	}
}

func trackingPending(t *testing.T, tr *Tracking, userID string) storage.Pending {
	t.Helper()
	p, err := tr.store.LoadPending(context.Background(), storage.PendingTrackingKey(userID))
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	return p
}

func TestTrackingListKeepsCodeBeforeMirror(t *testing.T) {
	fake := &fakeRemote{}
	queue := pausedQueue(t)
	tr := newTracking(t, fake, queue, TrackingOptions{})
	ctx := context.Background()

	code, err := tr.Create(ctx, "acc-1", "https://new.example", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The save is still queued, so the remote read comes back empty.
	codes, err := tr.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(codes) != 1 || codes[0].ID != code.ID {
		t.Fatalf("list before mirror = %+v", codes)
	}
	cached, _ := tr.store.CachedTrackingCodes(ctx, "acc-1")
	if len(cached) != 1 {
		t.Fatalf("cache lost the new code: %+v", cached)
	}

	queue.Start(ctx)
	flush(t, queue)

	if p := trackingPending(t, tr, "acc-1"); !p.Empty() {
		t.Errorf("pending after mirror = %+v", p)
	}
	codes, _ = tr.List(ctx, "acc-1")
	if len(codes) != 1 || codes[0].ID != code.ID {
		t.Errorf("list after mirror = %+v", codes)
	}
}

func TestTrackingCodeKeptWhenRemoteSaveFails(t *testing.T) {
	fake := &fakeRemote{failSave: true}
	queue := setupQueue(t)
	tr := newTracking(t, fake, queue, TrackingOptions{})
	ctx := context.Background()

	code, _ := tr.Create(ctx, "acc-1", "https://new.example", "")
	flush(t, queue)

	codes, err := tr.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(codes) != 1 || codes[0].ID != code.ID {
		t.Errorf("code lost after failed mirror: %+v", codes)
	}
	if p := trackingPending(t, tr, "acc-1"); !p.IsUnsynced(code.ID) {
		t.Errorf("code should stay unsynced: %+v", p)
	}
}

func TestTrackingDeleteStaysWhenRemoteReadsWork(t *testing.T) {
	fake := &fakeRemote{}
	queue := setupQueue(t)
	tr := newTracking(t, fake, queue, TrackingOptions{})
	ctx := context.Background()

	keep, _ := tr.Create(ctx, "acc-1", "https://keep.example", "")
	drop, _ := tr.Create(ctx, "acc-1", "https://drop.example", "")
	flush(t, queue)

	fake.set(func(f *fakeRemote) { f.failDelete = true })
	if err := tr.Delete(ctx, "acc-1", drop.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	flush(t, queue)

	codes, err := tr.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(codes) != 1 || codes[0].ID != keep.ID {
		t.Fatalf("deleted code came back from the remote: %+v", codes)
	}
	cached, _ := tr.store.CachedTrackingCodes(ctx, "acc-1")
	if len(cached) != 1 || cached[0].ID != keep.ID {
		t.Errorf("cache after list = %+v", cached)
	}
	if p := trackingPending(t, tr, "acc-1"); !p.IsDeleted(drop.ID) {
		t.Errorf("delete should stay pending: %+v", p)
	}

	// A later successful delete clears the pending entry.
	fake.set(func(f *fakeRemote) { f.failDelete = false })
	if err := tr.Delete(ctx, "acc-1", drop.ID); err != nil {
		t.Fatalf("delete again: %v", err)
	}
	flush(t, queue)
	if p := trackingPending(t, tr, "acc-1"); !p.Empty() {
		t.Errorf("pending after remote delete = %+v", p)
	}
	codes, _ = tr.List(ctx, "acc-1")
	if len(codes) != 1 || codes[0].ID != keep.ID {
		t.Errorf("list after remote delete = %+v", codes)
	}
}

func TestTrackingScheduleWinsOverStaleRemote(t *testing.T) {
	fake := &fakeRemote{}
	queue := setupQueue(t)
	tr := newTracking(t, fake, queue, TrackingOptions{})
	ctx := context.Background()

	code, _ := tr.Create(ctx, "acc-1", "https://a.example", model.FrequencyWeekly)
	flush(t, queue)

	tr.queue = pausedQueue(t)
	scannedAt := fixedNow.AddDate(0, 0, 8)
	if n, err := tr.MarkScanned(ctx, "acc-1", "https://a.example", scannedAt); err != nil || n != 1 {
		t.Fatalf("mark scanned = %d, %v", n, err)
	}

	codes, err := tr.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(codes) != 1 || codes[0].ID != code.ID {
		t.Fatalf("codes = %+v", codes)
	}
	if !codes[0].LastScan.Equal(scannedAt) {
		t.Errorf("last scan = %v, want the local %v", codes[0].LastScan, scannedAt)
	}
}
