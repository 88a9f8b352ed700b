package model

import (
	"encoding/json"
	"time"
)

// Report is one completed SEO scan. It is never edited after creation.
type Report struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	WebsiteURL  string          `json:"websiteUrl"`
	Score       int             `json:"score"`
	Positives   []string        `json:"positives"`
	Negatives   []string        `json:"negatives"`
	Suggestions []string        `json:"suggestions"`
	ReportData  json.RawMessage `json:"reportData,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ScanResult is what the scan service returns for one URL.
type ScanResult struct {
	Score       int             `json:"score"`
	Positives   []string        `json:"positives"`
	Negatives   []string        `json:"negatives"`
	Suggestions []string        `json:"suggestions"`
	ReportData  json.RawMessage `json:"reportData,omitempty"`
}

// NonNilStrings keeps empty lists encoding as [] rather than null.
func NonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
