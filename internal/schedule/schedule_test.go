package schedule

import (
	"testing"
	"time"

	"github.com/dukerupert/weeme/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	tests := []struct {
		freq model.ScanFrequency
		from time.Time
		want time.Time
	}{
		{model.FrequencyWeekly, date(2025, 3, 10), date(2025, 3, 17)},
		{"", date(2025, 3, 10), date(2025, 3, 17)},
		{model.FrequencyBiweekly, date(2025, 3, 10), date(2025, 3, 24)},
		{model.FrequencyMonthly, date(2025, 3, 10), date(2025, 4, 10)},
		{model.FrequencyMonthly, date(2025, 1, 31), date(2025, 2, 28)},
		{model.FrequencyMonthly, date(2024, 1, 31), date(2024, 2, 29)},
		{model.FrequencyMonthly, date(2025, 12, 15), date(2026, 1, 15)},
	}

	for _, tt := range tests {
		got, err := Next(tt.freq, tt.from)
		if err != nil {
			t.Errorf("Next(%q, %v) error: %v", tt.freq, tt.from, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("Next(%q, %v) = %v, want %v", tt.freq, tt.from, got, tt.want)
		}
	}
}

func TestNextUnknownFrequency(t *testing.T) {
	if _, err := Next("hourly", date(2025, 1, 1)); err == nil {
		t.Error("expected error for unknown frequency")
	}
}

func TestUpcomingMonthlyKeepsDay(t *testing.T) {
	got, err := Upcoming(model.FrequencyMonthly, date(2025, 1, 31), 3)
	if err != nil {
		t.Fatalf("Upcoming error: %v", err)
	}
	want := []time.Time{date(2025, 2, 28), date(2025, 3, 31), date(2025, 4, 30)}
	if len(got) != len(want) {
		t.Fatalf("got %d dates, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Upcoming[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestInterval(t *testing.T) {
	week := 7 * 24 * time.Hour
	tests := []struct {
		freq model.ScanFrequency
		want time.Duration
	}{
		{model.FrequencyWeekly, week},
		{model.FrequencyBiweekly, 2 * week},
		{model.FrequencyMonthly, 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := Interval(tt.freq)
		if err != nil || got != tt.want {
			t.Errorf("Interval(%q) = %v, %v; want %v", tt.freq, got, err, tt.want)
		}
	}
	if LegacyInterval != week {
		t.Errorf("LegacyInterval = %v", LegacyInterval)
	}
}

func TestDue(t *testing.T) {
	next := date(2025, 5, 1)
	if Due(next, date(2025, 4, 30)) {
		t.Error("not due before next scan")
	}
	if !Due(next, next) {
		t.Error("due at next scan")
	}
	if Due(time.Time{}, date(2025, 5, 1)) {
		t.Error("zero next scan is never due")
	}
}

func TestDescribe(t *testing.T) {
	tests := map[model.ScanFrequency]string{
		model.FrequencyWeekly:   "Scans weekly",
		model.FrequencyBiweekly: "Scans every 2 weeks",
		model.FrequencyMonthly:  "Scans monthly",
		"yearly":                "",
	}
	for freq, want := range tests {
		if got := Describe(freq); got != want {
			t.Errorf("Describe(%q) = %q, want %q", freq, got, want)
		}
	}
}
