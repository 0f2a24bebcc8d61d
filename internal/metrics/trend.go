package metrics

import "math"

// Trend is the direction of a metric over a window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// trendThreshold is the relative change between the two half-means beyond
// which a series counts as moving.
const trendThreshold = 0.05

// Trends holds the direction of each tracked metric.
type Trends struct {
	SuccessRateTrend Trend `json:"successRateTrend"`
	DurationTrend    Trend `json:"durationTrend"`
	TestCountTrend   Trend `json:"testCountTrend"`
	CoverageTrend    Trend `json:"coverageTrend"`
}

// ClassifyTrend compares the mean of the first half of a time-ordered series
// (the first len/2 points) with the mean of the rest. A relative change above
// +5% is increasing, below -5% decreasing, anything else stable. Fewer than
// two points is always stable.
func ClassifyTrend(series []float64) Trend {
	if len(series) < 2 {
		return TrendStable
	}
	half := len(series) / 2
	first, second := mean(series[:half]), mean(series[half:])

	if first == 0 {
		if second > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := (second - first) / math.Abs(first)
	switch {
	case change > trendThreshold:
		return TrendIncreasing
	case change < -trendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
