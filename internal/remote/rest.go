package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dukerupert/weeme/internal/model"
)

const (
	usersPath    = "/rest/v1/users"
	reportsPath  = "/rest/v1/seo_reports"
	trackingPath = "/rest/v1/tracking_codes"
)

// StatusError is a non-2xx answer from the REST endpoint.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

type restError struct {
	Message string `json:"message"`
}

// REST talks to a PostgREST-style API over https.
type REST struct {
	client *resty.Client
}

// NewREST creates a REST backend rooted at baseURL.
func NewREST(baseURL, key string) *REST {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetHeader("apikey", key).
		SetAuthToken(key).
		SetHeader("Content-Type", "application/json").
		SetError(&restError{})
	return &REST{client: client}
}

func (r *REST) Enabled() bool { return true }

func (r *REST) SaveUser(ctx context.Context, a model.Account) error {
	return r.upsert(ctx, usersPath, toUserRow(a))
}

func (r *REST) SaveReport(ctx context.Context, rep model.Report) error {
	return r.upsert(ctx, reportsPath, toReportRow(rep))
}

func (r *REST) SaveTrackingCode(ctx context.Context, c model.TrackingCode) error {
	return r.upsert(ctx, trackingPath, toTrackingRow(c))
}

func (r *REST) GetReports(ctx context.Context, userID string) ([]model.Report, error) {
	var rows []reportRow
	if err := r.list(ctx, reportsPath, userID, &rows); err != nil {
		return []model.Report{}, fmt.Errorf("get reports: %w", err)
	}
	out := make([]model.Report, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r *REST) GetTrackingCodes(ctx context.Context, userID string) ([]model.TrackingCode, error) {
	var rows []trackingRow
	if err := r.list(ctx, trackingPath, userID, &rows); err != nil {
		return []model.TrackingCode{}, fmt.Errorf("get tracking codes: %w", err)
	}
	out := make([]model.TrackingCode, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r *REST) DeleteTrackingCode(ctx context.Context, id string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		Delete(trackingPath)
	if err != nil {
		return fmt.Errorf("delete tracking code: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("delete tracking code: %w", err)
	}
	return nil
}

func (r *REST) upsert(ctx context.Context, path string, row any) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetBody([]any{row}).
		Post(path)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	return nil
}

func (r *REST) list(ctx context.Context, path, userID string, out any) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select":  "*",
			"user_id": "eq." + userID,
			"order":   "created_at.desc",
		}).
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	se := &StatusError{Status: resp.StatusCode()}
	if e, ok := resp.Error().(*restError); ok && e.Message != "" {
		se.Message = e.Message
	} else if resp.StatusCode() >= http.StatusBadRequest {
		se.Message = strings.TrimSpace(string(resp.Body()))
	}
	return se
}
