package model

import (
	"fmt"
	"strings"
	"time"
)

type ScanFrequency string

const (
	FrequencyWeekly   ScanFrequency = "weekly"
	FrequencyBiweekly ScanFrequency = "biweekly"
	FrequencyMonthly  ScanFrequency = "monthly"
)

// ParseFrequency maps user input to a frequency. Empty input means weekly.
func ParseFrequency(s string) (ScanFrequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "weekly":
		return FrequencyWeekly, nil
	case "biweekly":
		return FrequencyBiweekly, nil
	case "monthly":
		return FrequencyMonthly, nil
	}
	return "", fmt.Errorf("unknown scan frequency %q", s)
}

type TrackingCode struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	WebsiteURL    string        `json:"websiteUrl"`
	Code          string        `json:"code"`
	IsActive      bool          `json:"isActive"`
	ScanFrequency ScanFrequency `json:"scanFrequency"`
	LastScan      time.Time     `json:"lastScan"`
	NextScan      time.Time     `json:"nextScan"`
	CreatedAt     time.Time     `json:"createdAt"`
}
