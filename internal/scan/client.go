// Package scan runs SEO scans through the external scan service and records
// the results against the signed-in account.
package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/dukerupert/weeme/internal/model"
)

const scanPath = "/api/seo-scan"

// APIError is a non-2xx answer from the scan service. Message is safe to show
// to the user.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scan failed (%d): %s", e.Status, e.Message)
}

type scanRequest struct {
	URL string `json:"url"`
}

type scanResponse struct {
	Report *model.ScanResult `json:"report"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Client calls the scan service. It adds no timeout of its own; callers bound
// a scan through ctx.
type Client struct {
	http *resty.Client
}

func NewClient(apiBase string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(apiBase, "/")).
			SetHeader("Content-Type", "application/json"),
	}
}

// Scan asks the service to analyse url.
func (c *Client) Scan(ctx context.Context, url string) (model.ScanResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(scanRequest{URL: url}).
		SetResult(&scanResponse{}).
		SetError(&errorBody{}).
		Post(scanPath)
	if err != nil {
		return model.ScanResult{}, fmt.Errorf("scan request: %w", err)
	}

	if !resp.IsSuccess() {
		msg := "scan failed"
		if body, ok := resp.Error().(*errorBody); ok && body.Message != "" {
			msg = body.Message
		}
		return model.ScanResult{}, &APIError{Status: resp.StatusCode(), Message: msg}
	}

	out, ok := resp.Result().(*scanResponse)
	if !ok || out.Report == nil {
		return model.ScanResult{}, fmt.Errorf("decode scan response: missing report")
	}
	return *out.Report, nil
}
