package records

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukerupert/weeme/internal/logging"
	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/remote"
	"github.com/dukerupert/weeme/internal/storage"
)

func TestReportsDisabledRemoteUsesCache(t *testing.T) {
	store := setupStore(t)
	reports := NewReports(store, remote.Disabled{}, nil, logging.Discard(), 0)
	ctx := context.Background()

	first, err := reports.Create(ctx, "acc-1", " https://a.example ", sampleResult(60))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := reports.Create(ctx, "acc-1", "https://b.example", sampleResult(80))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("ids not unique: %q %q", first.ID, second.ID)
	}
	if first.WebsiteURL != "https://a.example" {
		t.Errorf("url not trimmed: %q", first.WebsiteURL)
	}

	list, err := reports.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("list not newest first: %+v", list)
	}

	other, err := reports.List(ctx, "acc-2")
	if err != nil || len(other) != 0 {
		t.Errorf("other account list = %v, %v", other, err)
	}
}

func TestReportsCacheCapped(t *testing.T) {
	store := setupStore(t)
	reports := NewReports(store, remote.Disabled{}, nil, logging.Discard(), 3)
	ctx := context.Background()

	var last string
	for i := 0; i < 5; i++ {
		r, err := reports.Create(ctx, "acc-1", fmt.Sprintf("https://%d.example", i), sampleResult(i))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		last = r.ID
	}
	list, _ := reports.List(ctx, "acc-1")
	if len(list) != 3 {
		t.Fatalf("cache holds %d reports, want 3", len(list))
	}
	if list[0].ID != last {
		t.Error("newest report should be kept first")
	}
}

func TestReportsRemoteFirst(t *testing.T) {
	store := setupStore(t)
	fake := &fakeRemote{}
	queue := setupQueue(t)
	reports := NewReports(store, fake, queue, logging.Discard(), 0)
	ctx := context.Background()

	created, err := reports.Create(ctx, "acc-1", "https://a.example", sampleResult(70))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	flush(t, queue)

	list, err := reports.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("remote list = %+v", list)
	}
	if fake.getCalls != 1 {
		t.Errorf("remote get calls = %d, want 1", fake.getCalls)
	}
}

func TestReportsFallbackWhenRemoteFails(t *testing.T) {
	store := setupStore(t)
	fake := &fakeRemote{fail: true}
	queue := setupQueue(t)
	reports := NewReports(store, fake, queue, logging.Discard(), 0)
	ctx := context.Background()

	created, err := reports.Create(ctx, "acc-1", "https://a.example", sampleResult(70))
	if err != nil {
		t.Fatalf("create must succeed while remote is down: %v", err)
	}
	flush(t, queue)

	list, err := reports.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("fallback list = %+v", list)
	}
}

func TestReportsRemoteRefreshesCache(t *testing.T) {
	store := setupStore(t)
	fake := &fakeRemote{}
	reports := NewReports(store, fake, nil, logging.Discard(), 0)
	ctx := context.Background()

	fake.reports = []model.Report{{ID: "remote-1", UserID: "acc-1", WebsiteURL: "https://r.example", Score: 90}}
	if _, err := reports.List(ctx, "acc-1"); err != nil {
		t.Fatalf("list: %v", err)
	}

	cached, err := store.CachedReports(ctx, "acc-1")
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "remote-1" {
		t.Errorf("cache = %+v", cached)
	}
}

func TestReportsRequireAccountAndURL(t *testing.T) {
	reports := NewReports(setupStore(t), nil, nil, logging.Discard(), 0)
	ctx := context.Background()

	if _, err := reports.List(ctx, ""); !errors.Is(err, ErrNoAccount) {
		t.Errorf("list err = %v", err)
	}
	if _, err := reports.Create(ctx, "acc-1", "  ", sampleResult(1)); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("create err = %v", err)
	}
}

func TestReportsListKeepsReportBeforeMirror(t *testing.T) {
	store := setupStore(t)
	fake := &fakeRemote{}
	fake.reports = []model.Report{{
		ID: "remote-1", UserID: "acc-1", WebsiteURL: "https://old.example", Score: 40,
		CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}}
	queue := pausedQueue(t)
	reports := NewReports(store, fake, queue, logging.Discard(), 0)
	ctx := context.Background()

	created, err := reports.Create(ctx, "acc-1", "https://new.example", sampleResult(75))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := reports.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != created.ID || list[1].ID != "remote-1" {
		t.Fatalf("list before mirror = %+v", list)
	}
	cached, _ := store.CachedReports(ctx, "acc-1")
	if len(cached) != 2 {
		t.Errorf("cache after list = %+v", cached)
	}

	queue.Start(ctx)
	flush(t, queue)

	p, err := store.LoadPending(ctx, storage.PendingReportsKey("acc-1"))
	if err != nil || !p.Empty() {
		t.Errorf("pending after mirror = %+v, %v", p, err)
	}
	list, _ = reports.List(ctx, "acc-1")
	if len(list) != 2 || list[0].ID != created.ID {
		t.Errorf("list after mirror = %+v", list)
	}
}

func TestReportsKeptWhenRemoteSaveFails(t *testing.T) {
	store := setupStore(t)
	fake := &fakeRemote{failSave: true}
	queue := setupQueue(t)
	reports := NewReports(store, fake, queue, logging.Discard(), 0)
	ctx := context.Background()

	created, _ := reports.Create(ctx, "acc-1", "https://a.example", sampleResult(70))
	flush(t, queue)

	list, err := reports.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("report lost after failed mirror: %+v", list)
	}
}
