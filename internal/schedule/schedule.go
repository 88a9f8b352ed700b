// Package schedule computes when a tracked site is next due for a scan.
package schedule

import (
	"fmt"
	"time"

	"github.com/dukerupert/weeme/internal/model"
)

// LegacyInterval is the fixed gap older clients used for every frequency.
const LegacyInterval = 7 * 24 * time.Hour

type unit int

const (
	weeks unit = iota
	months
)

type rule struct {
	unit     unit
	interval int
}

func ruleFor(freq model.ScanFrequency) (rule, error) {
	switch freq {
	case model.FrequencyWeekly, "":
		return rule{unit: weeks, interval: 1}, nil
	case model.FrequencyBiweekly:
		return rule{unit: weeks, interval: 2}, nil
	case model.FrequencyMonthly:
		return rule{unit: months, interval: 1}, nil
	}
	return rule{}, fmt.Errorf("unknown scan frequency: %q", freq)
}

// Interval returns the nominal gap between scans. Monthly is reported as 30 days;
// Next uses real calendar months.
func Interval(freq model.ScanFrequency) (time.Duration, error) {
	r, err := ruleFor(freq)
	if err != nil {
		return 0, err
	}
	if r.unit == months {
		return time.Duration(r.interval) * 30 * 24 * time.Hour, nil
	}
	return time.Duration(r.interval) * 7 * 24 * time.Hour, nil
}

// Next returns the first scan time after from.
func Next(freq model.ScanFrequency, from time.Time) (time.Time, error) {
	r, err := ruleFor(freq)
	if err != nil {
		return time.Time{}, err
	}
	return r.advance(from, from.Day()), nil
}

// Upcoming returns the next n scan times after from. Monthly schedules keep the
// starting day of month and clamp it in shorter months.
func Upcoming(freq model.ScanFrequency, from time.Time, n int) ([]time.Time, error) {
	r, err := ruleFor(freq)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	cur := from
	for i := 0; i < n; i++ {
		cur = r.advance(cur, from.Day())
		out = append(out, cur)
	}
	return out, nil
}

// Due reports whether a code scheduled for next should be scanned at now.
func Due(next, now time.Time) bool {
	return !next.IsZero() && !now.Before(next)
}

// Describe returns a human-readable description of the frequency.
func Describe(freq model.ScanFrequency) string {
	r, err := ruleFor(freq)
	if err != nil {
		return ""
	}
	switch {
	case r.unit == months:
		return "Scans monthly"
	case r.interval == 2:
		return "Scans every 2 weeks"
	default:
		return "Scans weekly"
	}
}

func (r rule) advance(t time.Time, day int) time.Time {
	if r.unit == weeks {
		return t.AddDate(0, 0, 7*r.interval)
	}

	// AddDate normalizes Jan 31 + 1 month to Mar 3; step from the first of the
	// month and clamp the day instead.
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	next := first.AddDate(0, r.interval, 0)
	year, month, _ := next.Date()
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
