package metrics

import "math"

// Weight of each factor in the health score. They sum to 100.
const (
	weightSuccessRate = 40.0
	weightCoverage    = 30.0
	weightConsistency = 20.0
	weightRecent      = 10.0
)

// recentRuns is how many of the latest runs feed the recent-performance factor.
const recentRuns = 5

// Health levels returned by the score calculator.
const (
	LevelExcellent = "excellent"
	LevelGood      = "good"
	LevelFair      = "fair"
	LevelPoor      = "poor"
	LevelCritical  = "critical"
)

// Thresholds that map a score to a health level.
const (
	ThresholdExcellent = 80.0
	ThresholdGood      = 70.0
	ThresholdFair      = 60.0
	ThresholdPoor      = 50.0
)

// Health is the composite score of a report.
type Health struct {
	Score   float64       `json:"score"`
	Level   string        `json:"level"`
	Factors HealthFactors `json:"factors"`
}

// HealthFactors are the four contributions to Score, each already scaled to
// its weight.
type HealthFactors struct {
	SuccessRate       float64 `json:"successRate"`
	Coverage          float64 `json:"coverage"`
	Consistency       float64 `json:"consistency"`
	RecentPerformance float64 `json:"recentPerformance"`
}

// ScoreInput holds the values fed into the health score.
type ScoreInput struct {
	// Runs is the number of runs in the window. Zero yields a zero score.
	Runs int

	// SuccessRate is passed/total tests over the window, 0–100.
	SuccessRate float64

	// CoverageLines is the line coverage percentage, 0–100. Zero when no
	// run reported coverage.
	CoverageLines float64

	// RunSuccess is the per-run success fraction (0–1) of every run that
	// executed tests, oldest first.
	RunSuccess []float64
}

// ComputeHealth calculates the health score:
//
//	score = successRate/100        * 40
//	      + coverageLines/100      * 30
//	      + max(0, 1 - 2σ)         * 20   // σ = stddev of per-run success
//	      + mean(last 5 runs)      * 10
//
// clamped to [0, 100].
func ComputeHealth(in ScoreInput) Health {
	if in.Runs == 0 {
		return Health{Score: 0, Level: LevelCritical}
	}

	f := HealthFactors{
		SuccessRate: clamp01(in.SuccessRate/100) * weightSuccessRate,
		Coverage:    clamp01(in.CoverageLines/100) * weightCoverage,
	}
	if len(in.RunSuccess) > 0 {
		f.Consistency = math.Max(0, 1-2*stddev(in.RunSuccess)) * weightConsistency

		recent := in.RunSuccess
		if len(recent) > recentRuns {
			recent = recent[len(recent)-recentRuns:]
		}
		f.RecentPerformance = clamp01(mean(recent)) * weightRecent
	}

	score := clamp(f.SuccessRate+f.Coverage+f.Consistency+f.RecentPerformance, 0, 100)
	return Health{Score: score, Level: LevelFromScore(score), Factors: f}
}

// LevelFromScore maps a numeric score to a named health level. Each
// threshold is inclusive.
func LevelFromScore(score float64) string {
	switch {
	case score >= ThresholdExcellent:
		return LevelExcellent
	case score >= ThresholdGood:
		return LevelGood
	case score >= ThresholdFair:
		return LevelFair
	case score >= ThresholdPoor:
		return LevelPoor
	default:
		return LevelCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation of xs.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}
