package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/weeme/internal/model"
)

var (
	ErrInvalidURL          = errors.New("please enter a valid url")
	ErrNotAuthenticated    = errors.New("sign in to run a scan")
	ErrInsufficientCredits = errors.New("not enough credits: buy credits or upgrade to Pro")
)

// Scanner is the scan service.
type Scanner interface {
	Scan(ctx context.Context, url string) (model.ScanResult, error)
}

// Accounts is the signed-in account and its credit balance.
type Accounts interface {
	Current() (model.Account, bool)
	AddCredits(ctx context.Context, delta int) error
}

type ReportWriter interface {
	Create(ctx context.Context, userID, websiteURL string, result model.ScanResult) (model.Report, error)
}

type ScanRecorder interface {
	MarkScanned(ctx context.Context, userID, websiteURL string, at time.Time) (int, error)
}

type Service struct {
	scanner  Scanner
	accounts Accounts
	reports  ReportWriter
	tracking ScanRecorder
	logger   *slog.Logger
}

// NewService wires the scan flow. tracking may be nil.
func NewService(scanner Scanner, accounts Accounts, reports ReportWriter, tracking ScanRecorder, logger *slog.Logger) *Service {
	return &Service{
		scanner:  scanner,
		accounts: accounts,
		reports:  reports,
		tracking: tracking,
		logger:   logger,
	}
}

// Scan checks the account can pay for a scan before calling the service,
// stores the report, then charges one credit on metered tiers.
func (s *Service) Scan(ctx context.Context, url string) (model.Report, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return model.Report{}, ErrInvalidURL
	}
	acct, ok := s.accounts.Current()
	if !ok {
		return model.Report{}, ErrNotAuthenticated
	}
	if !acct.CanScan() {
		return model.Report{}, ErrInsufficientCredits
	}

	s.logger.Info("scan started", "user_id", acct.ID, "url", url)
	result, err := s.scanner.Scan(ctx, url)
	if err != nil {
		s.logger.Warn("scan failed", "user_id", acct.ID, "url", url, "error", err)
		return model.Report{}, err
	}

	report, err := s.reports.Create(ctx, acct.ID, url, result)
	if err != nil {
		return model.Report{}, fmt.Errorf("save report: %w", err)
	}

	if acct.Membership.Metered() {
		if err := s.accounts.AddCredits(ctx, -1); err != nil {
			return report, fmt.Errorf("charge credit: %w", err)
		}
	}

	if s.tracking != nil {
		if _, err := s.tracking.MarkScanned(ctx, acct.ID, url, report.CreatedAt); err != nil {
			s.logger.Warn("update tracking schedule", "user_id", acct.ID, "url", url, "error", err)
		}
	}

	s.logger.Info("scan finished", "user_id", acct.ID, "url", url, "score", report.Score)
	return report, nil
}
