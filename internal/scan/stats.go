package scan

import (
	"math"

	"github.com/dukerupert/weeme/internal/model"
)

// Stats is the dashboard summary for one account.
type Stats struct {
	TotalScans     int           `json:"totalScans"`
	AverageScore   int           `json:"averageScore"`
	Trend          int           `json:"trend"`
	ActiveTracking int           `json:"activeTracking"`
	Latest         *model.Report `json:"latest,omitempty"`
}

// Summarize expects reports newest first. Trend is the score change between
// the two newest reports.
func Summarize(reports []model.Report, codes []model.TrackingCode) Stats {
	var st Stats
	st.TotalScans = len(reports)
	if len(reports) > 0 {
		sum := 0
		for _, r := range reports {
			sum += r.Score
		}
		st.AverageScore = int(math.Round(float64(sum) / float64(len(reports))))
		latest := reports[0]
		st.Latest = &latest
	}
	if len(reports) >= 2 {
		st.Trend = reports[0].Score - reports[1].Score
	}
	for _, c := range codes {
		if c.IsActive {
			st.ActiveTracking++
		}
	}
	return st
}
