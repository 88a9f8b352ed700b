package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/weeme/internal/backup"
	"github.com/dukerupert/weeme/internal/billing"
	"github.com/dukerupert/weeme/internal/config"
	"github.com/dukerupert/weeme/internal/database"
	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/outbox"
	"github.com/dukerupert/weeme/internal/records"
	"github.com/dukerupert/weeme/internal/remote"
	"github.com/dukerupert/weeme/internal/scan"
	"github.com/dukerupert/weeme/internal/session"
	"github.com/dukerupert/weeme/internal/storage"
)

// flushTimeout bounds how long a command waits for queued remote writes on exit.
const flushTimeout = 10 * time.Second

// app is every service a command may need, built from one Config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	kv       kv.Store
	storage  *storage.Storage
	remote   remote.Database
	queue    *outbox.Outbox
	sessions *session.Manager
	reports  *records.Reports
	tracking *records.Tracking
	scans    *scan.Service
	billing  *billing.Service
	backups  *backup.Manager

	closers []func()
}

type appOptions struct {
	// registry receives outbox metrics; nil keeps them private to this run.
	registry prometheus.Registerer

	// backups are scheduled only by serve
	backupInterval  time.Duration
	backupRetention time.Duration
	backupCallback  backup.StatusCallback
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { db.Close() })

	store, err := a.openKV(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.kv = store
	a.storage = storage.New(store, logger.With("component", "storage"))

	a.remote = remote.New(ctx, cfg, logger.With("component", "remote"))
	if c, ok := a.remote.(interface{ Close() }); ok {
		a.closers = append(a.closers, c.Close)
	}

	reg := opts.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a.queue = outbox.New(outbox.DefaultQueueSize, reg, logger.With("component", "outbox"))
	a.queue.Start(ctx)
	a.closers = append(a.closers, a.drainQueue)

	a.sessions = session.NewManager(a.storage, a.remote, a.queue, logger.With("component", "session"), session.Options{
		AllowImplicitSignup: cfg.AllowImplicitSignup,
	})
	if err := a.sessions.Init(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("init session: %w", err)
	}
	a.closers = append(a.closers, a.sessions.Close)

	recordsLogger := logger.With("component", "records")
	a.reports = records.NewReports(a.storage, a.remote, a.queue, recordsLogger, cfg.Limits.MaxReports)
	a.tracking = records.NewTracking(a.storage, a.remote, a.queue, recordsLogger, records.TrackingOptions{
		Max:               cfg.Limits.MaxTrackingCodes,
		FixedScanInterval: cfg.FixedScanInterval,
	})

	a.scans = scan.NewService(scan.NewClient(cfg.APIBase), a.sessions, a.reports, a.tracking, logger.With("component", "scan"))
	a.billing = billing.NewService(a.sessions, logger.With("component", "billing"))

	a.backups = backup.NewManager(backup.Config{
		S3:        cfg.S3,
		DBPath:    cfg.DBPath,
		Interval:  opts.backupInterval,
		Retention: opts.backupRetention,
	}, db, backup.NewStore(db), logger.With("component", "backup"), opts.backupCallback)

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	return a, nil
}

func (a *app) openKV(ctx context.Context) (kv.Store, error) {
	kvLogger := a.logger.With("component", "kv")
	switch strings.ToLower(a.cfg.KVBackend) {
	case "", "sqlite":
		return kv.NewSQLiteStore(a.db, kvLogger), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
		}
		store := kv.NewRedisStore(client, "", kvLogger)
		a.closers = append(a.closers, func() {
			store.Close()
			client.Close()
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q (want sqlite or redis)", a.cfg.KVBackend)
	}
}

// drainQueue gives queued remote writes a bounded chance to finish.
func (a *app) drainQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.queue.Flush(ctx); err != nil {
		a.logger.Warn("remote writes still pending at exit", "pending", a.queue.Pending(), "error", err)
	}
	a.queue.Stop()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// account returns the signed-in account or an error telling the user to log in.
func (a *app) account() (model.Account, error) {
	acct, ok := a.sessions.Current()
	if !ok {
		return model.Account{}, errNotSignedIn
	}
	return acct, nil
}
