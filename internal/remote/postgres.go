package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/weeme/internal/model"
)

// Postgres reaches the same collections directly over a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and pings. The key is used as the password when the
// connection string carries none.
func NewPostgres(ctx context.Context, dsn, key string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.ConnConfig.Password == "" {
		cfg.ConnConfig.Password = key
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Enabled() bool { return true }

func (p *Postgres) SaveUser(ctx context.Context, a model.Account) error {
	row := toUserRow(a)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, membership_type, credits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   membership_type = EXCLUDED.membership_type,
		   credits = EXCLUDED.credits,
		   updated_at = EXCLUDED.updated_at`,
		row.ID, row.Username, row.Email, row.MembershipType, row.Credits, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (p *Postgres) SaveReport(ctx context.Context, r model.Report) error {
	row := toReportRow(r)
	var data []byte
	if len(row.ReportData) > 0 {
		data = row.ReportData
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO seo_reports (id, user_id, website_url, score, positives, negatives, suggestions, report_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		row.ID, row.UserID, row.WebsiteURL, row.Score, row.Positives, row.Negatives, row.Suggestions, data, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (p *Postgres) GetReports(ctx context.Context, userID string) ([]model.Report, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, website_url, score, positives, negatives, suggestions, report_data, created_at
		 FROM seo_reports WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return []model.Report{}, fmt.Errorf("get reports: %w", err)
	}
	defer rows.Close()

	out := []model.Report{}
	for rows.Next() {
		var row reportRow
		var data []byte
		if err := rows.Scan(&row.ID, &row.UserID, &row.WebsiteURL, &row.Score,
			&row.Positives, &row.Negatives, &row.Suggestions, &data, &row.CreatedAt); err != nil {
			return []model.Report{}, fmt.Errorf("scan report: %w", err)
		}
		row.ReportData = data
		out = append(out, row.model())
	}
	if err := rows.Err(); err != nil {
		return []model.Report{}, fmt.Errorf("get reports: %w", err)
	}
	return out, nil
}

func (p *Postgres) SaveTrackingCode(ctx context.Context, c model.TrackingCode) error {
	row := toTrackingRow(c)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tracking_codes (id, user_id, website_url, code, is_active, scan_frequency, last_scan, next_scan, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   is_active = EXCLUDED.is_active,
		   scan_frequency = EXCLUDED.scan_frequency,
		   last_scan = EXCLUDED.last_scan,
		   next_scan = EXCLUDED.next_scan`,
		row.ID, row.UserID, row.WebsiteURL, row.Code, row.IsActive, row.ScanFrequency, row.LastScan, row.NextScan, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save tracking code: %w", err)
	}
	return nil
}

func (p *Postgres) GetTrackingCodes(ctx context.Context, userID string) ([]model.TrackingCode, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, website_url, code, is_active, scan_frequency, last_scan, next_scan, created_at
		 FROM tracking_codes WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return []model.TrackingCode{}, fmt.Errorf("get tracking codes: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.TrackingCode, error) {
		var row trackingRow
		var lastScan, nextScan *time.Time
		if err := r.Scan(&row.ID, &row.UserID, &row.WebsiteURL, &row.Code, &row.IsActive,
			&row.ScanFrequency, &lastScan, &nextScan, &row.CreatedAt); err != nil {
			return model.TrackingCode{}, err
		}
		if lastScan != nil {
			row.LastScan = *lastScan
		}
		if nextScan != nil {
			row.NextScan = *nextScan
		}
		return row.model(), nil
	})
	if err != nil {
		return []model.TrackingCode{}, fmt.Errorf("scan tracking codes: %w", err)
	}
	return out, nil
}

func (p *Postgres) DeleteTrackingCode(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM tracking_codes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tracking code: %w", err)
	}
	return nil
}
