package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/weeme/internal/config"
	"github.com/dukerupert/weeme/internal/database"
	"github.com/dukerupert/weeme/internal/model"
)

var (
	ErrNotConfigured   = errors.New("backup not configured: S3 credentials missing")
	ErrMemoryStore     = errors.New("backup needs a file-backed store")
	ErrEmptyPassphrase = errors.New("backup passphrase is required")
	ErrNotFound        = errors.New("backup not found")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds backup manager configuration.
type Config struct {
	S3     config.S3Config
	DBPath string
	// Interval enables scheduled backups once a passphrase is cached.
	Interval time.Duration
	// Retention removes older backups after each scheduled run when > 0.
	Retention time.Duration
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"lastBackup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"inProgress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager uploads encrypted copies of the local store to S3-compatible storage.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback
	logger   *slog.Logger

	db     *sql.DB
	store  *Store
	client s3Client

	// memory only; never persisted
	passphrase string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new backup manager. It starts disabled when S3 is not
// configured.
func NewManager(cfg Config, db *sql.DB, store *Store, logger *slog.Logger, callback StatusCallback) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		store:    store,
		logger:   logger,
		callback: callback,
		status:   Status{State: StateDisabled},
	}

	if cfg.S3.Configured() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled backup loop. It is a no-op when disabled or
// when no interval is configured.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scheduled(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// CachePassphrase keeps the passphrase in memory for scheduled backups.
func (m *Manager) CachePassphrase(passphrase string) {
	m.mu.Lock()
	m.passphrase = passphrase
	m.mu.Unlock()
}

// HasPassphrase reports whether scheduled backups can run.
func (m *Manager) HasPassphrase() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.passphrase != ""
}

func (m *Manager) scheduled(ctx context.Context) {
	m.mu.RLock()
	passphrase := m.passphrase
	retention := m.cfg.Retention
	m.mu.RUnlock()

	if passphrase == "" {
		m.logger.Debug("skipping scheduled backup, no cached passphrase")
		return
	}

	if _, err := m.RunNow(ctx, passphrase); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
		return
	}

	if retention > 0 {
		if err := m.Cleanup(ctx, retention); err != nil {
			m.logger.Error("backup cleanup failed", "error", err)
		}
	}
}

// List returns the most recent backup runs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	return m.store.List(ctx, limit)
}

// RunNow checkpoints the store, encrypts a copy with a fresh salt and uploads it.
func (m *Manager) RunNow(ctx context.Context, passphrase string) (*model.Backup, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	dbPath := m.cfg.DBPath
	m.mu.RUnlock()

	if client == nil {
		return nil, ErrNotConfigured
	}
	if dbPath == "" || dbPath == database.MemoryPath {
		return nil, ErrMemoryStore
	}
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("backup-%s.db.enc", timestamp)
	s3Key := "weeme/" + filename

	record, err := m.store.Create(ctx, filename, s3Key)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("create backup record: %w", err)
	}

	fail := func(stage string, err error) (*model.Backup, error) {
		if uerr := m.store.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Warn("record backup failure", "id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	if err := m.store.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
		return fail("mark uploading", err)
	}

	tmpDir := os.TempDir()
	dbCopy := filepath.Join(tmpDir, fmt.Sprintf("weeme-backup-%d.db", record.ID))
	encFile := filepath.Join(tmpDir, fmt.Sprintf("weeme-backup-%d.db.enc", record.ID))
	defer os.Remove(dbCopy)
	defer os.Remove(encFile)

	// Flush the WAL so the main file holds every committed write.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fail("wal checkpoint", err)
	}

	if err := copyFile(dbPath, dbCopy); err != nil {
		return fail("copy database", err)
	}

	if err := EncryptFile(dbCopy, encFile, passphrase, salt); err != nil {
		return fail("encrypt", err)
	}

	encData, err := os.Open(encFile)
	if err != nil {
		return fail("open encrypted file", err)
	}
	defer encData.Close()

	stat, err := encData.Stat()
	if err != nil {
		return fail("stat encrypted file", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(s3Key),
		Body:          encData,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return fail("upload to s3", err)
	}

	if err := m.store.UpdateCompleted(ctx, record.ID, stat.Size()); err != nil {
		return fail("mark completed", err)
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup uploaded", "id", record.ID, "key", s3Key, "bytes", stat.Size())

	record.Status = model.BackupStatusCompleted
	record.SizeBytes = stat.Size()
	record.CompletedAt = &now
	return record, nil
}

// Restore downloads a backup, decrypts it, checks its integrity and writes it
// to dst. The caller must not have dst open.
func (m *Manager) Restore(ctx context.Context, backupID int64, passphrase, dst string) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return ErrNotConfigured
	}

	record, err := m.store.GetByID(ctx, backupID)
	if err != nil {
		return fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return ErrNotFound
	}

	tmpDir := os.TempDir()
	encFile := filepath.Join(tmpDir, fmt.Sprintf("weeme-restore-%d.db.enc", backupID))
	decFile := filepath.Join(tmpDir, fmt.Sprintf("weeme-restore-%d.db", backupID))
	defer os.Remove(encFile)
	defer os.Remove(decFile)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	outFile, err := os.Create(encFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(outFile, result.Body); err != nil {
		outFile.Close()
		return fmt.Errorf("write downloaded file: %w", err)
	}
	outFile.Close()

	if err := DecryptFile(encFile, decFile, passphrase); err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	if err := checkIntegrity(ctx, decFile); err != nil {
		return err
	}

	if err := copyFile(decFile, dst); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dst + "-wal")
	os.Remove(dst + "-shm")

	m.logger.Info("backup restored", "id", backupID, "path", dst)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}

// Cleanup deletes backups older than the retention period, both the rows and
// the uploaded objects.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	keys, err := m.store.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
