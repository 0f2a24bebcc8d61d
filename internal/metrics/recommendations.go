package metrics

import (
	"fmt"
	"sort"
)

// Recommendation is one advisory message about a report. The dashboard shows
// Title as a chip and Detail on expansion.
type Recommendation struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical".
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// Recommendation thresholds.
const (
	minSuccessRate = 80.0
	minCoverage    = 70.0
	minHealth      = ThresholdFair
)

var levelOrder = map[string]int{"critical": 0, "warning": 1, "info": 2}

// recommend derives the advisory messages for r, critical first.
func recommend(r *AggregatedReport) []Recommendation {
	recs := []Recommendation{}

	if r.TotalRuns == 0 {
		recs = append(recs, Recommendation{
			Key:   "no_data",
			Level: "info",
			Title: "No runs in window",
			Detail: fmt.Sprintf("No test results were recorded in the %s window. "+
				"Run a test suite or widen the time range.", r.TimeRange),
		})
		return recs
	}

	if r.Overall.TotalTests > 0 && r.Overall.SuccessRate < minSuccessRate {
		v := r.Overall.SuccessRate
		level := "warning"
		if v < ThresholdPoor {
			level = "critical"
		}
		recs = append(recs, Recommendation{
			Key:   "success_rate",
			Level: level,
			Title: fmt.Sprintf("%.1f%% tests passing", v),
			Detail: fmt.Sprintf("Only %.1f%% of tests passed (%d of %d). "+
				"Fix the failing tests or quarantine known-flaky ones; the target is at least %.0f%%.",
				v, r.Overall.TotalPassed, r.Overall.TotalTests, minSuccessRate),
			Value: &v,
		})
	}

	if c := r.Overall.Coverage; c != nil && c.Lines.Total > 0 && c.Lines.Percentage < minCoverage {
		v := c.Lines.Percentage
		recs = append(recs, Recommendation{
			Key:   "coverage",
			Level: "warning",
			Title: fmt.Sprintf("%.1f%% line coverage", v),
			Detail: fmt.Sprintf("Line coverage is %.1f%% (%d of %d lines). "+
				"Add tests for the least covered files to reach %.0f%%.",
				v, c.Lines.Covered, c.Lines.Total, minCoverage),
			Value: &v,
		})
	}

	if r.Trends.SuccessRateTrend == TrendDecreasing {
		recs = append(recs, Recommendation{
			Key:   "success_trend",
			Level: "warning",
			Title: "Pass rate falling",
			Detail: "The success rate of recent runs is more than 5% below earlier runs in this window. " +
				"Look at the failure patterns for newly recurring errors.",
		})
	}

	if r.Trends.DurationTrend == TrendIncreasing {
		recs = append(recs, Recommendation{
			Key:   "duration_trend",
			Level: "info",
			Title: "Runs getting slower",
			Detail: "Recent runs take more than 5% longer than earlier runs in this window. " +
				"Check for slow new tests, added retries or timeouts.",
		})
	}

	if r.Health.Score < minHealth {
		v := r.Health.Score
		recs = append(recs, Recommendation{
			Key:   "health",
			Level: "critical",
			Title: fmt.Sprintf("Health %.0f/100", v),
			Detail: fmt.Sprintf("The overall health score is %.0f (%s). "+
				"Address the items above, starting with the failing tests.", v, r.Health.Level),
			Value: &v,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return levelOrder[recs[i].Level] < levelOrder[recs[j].Level]
	})
	return recs
}
