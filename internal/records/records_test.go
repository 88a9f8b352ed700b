package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/weeme/internal/database"
	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/logging"
	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/outbox"
	"github.com/dukerupert/weeme/internal/storage"
)

// fakeRemote is an enabled remote database held in memory. Setting fail makes
// every call return an error; failSave and failDelete break only those writes.
type fakeRemote struct {
	mu         sync.Mutex
	fail       bool
	failSave   bool
	failDelete bool
	reports  []model.Report
	codes    []model.TrackingCode
	deleted  []string
	getCalls int
}

var errRemoteDown = errors.New("remote down")

func (f *fakeRemote) Enabled() bool { return true }

func (f *fakeRemote) SaveUser(ctx context.Context, a model.Account) error { return nil }

func (f *fakeRemote) GetReports(ctx context.Context, userID string) ([]model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.fail {
		return []model.Report{}, errRemoteDown
	}
	out := []model.Report{}
	for _, r := range f.reports {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) SaveReport(ctx context.Context, r model.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failSave {
		return errRemoteDown
	}
	f.reports = append([]model.Report{r}, f.reports...)
	return nil
}

func (f *fakeRemote) GetTrackingCodes(ctx context.Context, userID string) ([]model.TrackingCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.fail {
		return []model.TrackingCode{}, errRemoteDown
	}
	out := []model.TrackingCode{}
	for _, c := range f.codes {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRemote) SaveTrackingCode(ctx context.Context, c model.TrackingCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failSave {
		return errRemoteDown
	}
	for i, existing := range f.codes {
		if existing.ID == c.ID {
			f.codes[i] = c
			return nil
		}
	}
	f.codes = append([]model.TrackingCode{c}, f.codes...)
	return nil
}

func (f *fakeRemote) DeleteTrackingCode(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.fail || f.failDelete {
		return errRemoteDown
	}
	kept := f.codes[:0]
	for _, c := range f.codes {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.codes = kept
	return nil
}

func setupStore(t *testing.T) *storage.Storage {
	t.Helper()
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.New(kv.NewSQLiteStore(db, logging.Discard()), logging.Discard())
}

func setupQueue(t *testing.T) *outbox.Outbox {
	t.Helper()
	q := outbox.New(64, nil, logging.Discard())
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

// pausedQueue accepts jobs but runs none until Start is called.
func pausedQueue(t *testing.T) *outbox.Outbox {
	t.Helper()
	q := outbox.New(64, nil, logging.Discard())
	t.Cleanup(q.Stop)
	return q
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func flush(t *testing.T, q *outbox.Outbox) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func sampleResult(score int) model.ScanResult {
	return model.ScanResult{
		Score:       score,
		Positives:   []string{"has title"},
		Negatives:   []string{"no meta description"},
		Suggestions: []string{"add a description"},
	}
}
