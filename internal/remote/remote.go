// Package remote is the optional hosted database that mirrors accounts,
// reports and tracking codes. It is never the source of truth.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/dukerupert/weeme/internal/config"
	"github.com/dukerupert/weeme/internal/model"
)

// ErrDisabled is returned by every call when no valid remote configuration exists.
var ErrDisabled = errors.New("remote database not configured")

// Database is the remote mirror.
type Database interface {
	Enabled() bool
	SaveUser(ctx context.Context, a model.Account) error
	GetReports(ctx context.Context, userID string) ([]model.Report, error)
	SaveReport(ctx context.Context, r model.Report) error
	GetTrackingCodes(ctx context.Context, userID string) ([]model.TrackingCode, error)
	SaveTrackingCode(ctx context.Context, c model.TrackingCode) error
	DeleteTrackingCode(ctx context.Context, id string) error
}

// New picks the backend from the endpoint scheme. Invalid or missing
// configuration yields Disabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) Database {
	if !cfg.RemoteEnabled() {
		logger.Info("remote database not configured, using local store only")
		return Disabled{}
	}

	u, _ := url.Parse(cfg.RemoteURL)
	switch u.Scheme {
	case "postgres", "postgresql":
		db, err := NewPostgres(ctx, cfg.RemoteURL, cfg.RemoteKey)
		if err != nil {
			logger.Warn("remote postgres unavailable, using local store only", "error", err)
			return Disabled{}
		}
		logger.Info("remote database enabled", "backend", "postgres", "host", u.Host)
		return db
	default:
		logger.Info("remote database enabled", "backend", "rest", "host", u.Host)
		return NewREST(cfg.RemoteURL, cfg.RemoteKey)
	}
}

// Disabled fails soft: reads are empty, writes do nothing, both report ErrDisabled.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) SaveUser(context.Context, model.Account) error { return ErrDisabled }

func (Disabled) GetReports(context.Context, string) ([]model.Report, error) {
	return []model.Report{}, ErrDisabled
}

func (Disabled) SaveReport(context.Context, model.Report) error { return ErrDisabled }

func (Disabled) GetTrackingCodes(context.Context, string) ([]model.TrackingCode, error) {
	return []model.TrackingCode{}, ErrDisabled
}

func (Disabled) SaveTrackingCode(context.Context, model.TrackingCode) error { return ErrDisabled }

func (Disabled) DeleteTrackingCode(context.Context, string) error { return ErrDisabled }

// Row shapes shared by both backends; column names follow the hosted schema.

type userRow struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	MembershipType string    `json:"membership_type"`
	Credits        int       `json:"credits"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toUserRow(a model.Account) userRow {
	return userRow{
		ID:             a.ID,
		Username:       a.Username,
		Email:          a.Email,
		MembershipType: string(a.Membership),
		Credits:        a.Credits,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      time.Now().UTC(),
	}
}

type reportRow struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	WebsiteURL  string          `json:"website_url"`
	Score       int             `json:"score"`
	Positives   []string        `json:"positives"`
	Negatives   []string        `json:"negatives"`
	Suggestions []string        `json:"suggestions"`
	ReportData  json.RawMessage `json:"report_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toReportRow(r model.Report) reportRow {
	return reportRow{
		ID:          r.ID,
		UserID:      r.UserID,
		WebsiteURL:  r.WebsiteURL,
		Score:       r.Score,
		Positives:   model.NonNilStrings(r.Positives),
		Negatives:   model.NonNilStrings(r.Negatives),
		Suggestions: model.NonNilStrings(r.Suggestions),
		ReportData:  r.ReportData,
		CreatedAt:   r.CreatedAt,
	}
}

func (r reportRow) model() model.Report {
	return model.Report{
		ID:          r.ID,
		UserID:      r.UserID,
		WebsiteURL:  r.WebsiteURL,
		Score:       r.Score,
		Positives:   model.NonNilStrings(r.Positives),
		Negatives:   model.NonNilStrings(r.Negatives),
		Suggestions: model.NonNilStrings(r.Suggestions),
		ReportData:  r.ReportData,
		CreatedAt:   r.CreatedAt,
	}
}

type trackingRow struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	WebsiteURL    string    `json:"website_url"`
	Code          string    `json:"code"`
	IsActive      bool      `json:"is_active"`
	ScanFrequency string    `json:"scan_frequency"`
	LastScan      time.Time `json:"last_scan"`
	NextScan      time.Time `json:"next_scan"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTrackingRow(c model.TrackingCode) trackingRow {
	return trackingRow{
		ID:            c.ID,
		UserID:        c.UserID,
		WebsiteURL:    c.WebsiteURL,
		Code:          c.Code,
		IsActive:      c.IsActive,
		ScanFrequency: string(c.ScanFrequency),
		LastScan:      c.LastScan,
		NextScan:      c.NextScan,
		CreatedAt:     c.CreatedAt,
	}
}

func (r trackingRow) model() model.TrackingCode {
	return model.TrackingCode{
		ID:            r.ID,
		UserID:        r.UserID,
		WebsiteURL:    r.WebsiteURL,
		Code:          r.Code,
		IsActive:      r.IsActive,
		ScanFrequency: model.ScanFrequency(r.ScanFrequency),
		LastScan:      r.LastScan,
		NextScan:      r.NextScan,
		CreatedAt:     r.CreatedAt,
	}
}
