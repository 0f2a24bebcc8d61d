package metrics

import (
	"time"

	"github.com/testpulse/testpulse/pkg/types"
)

// AggregatedReport summarises the runs in one time window.
type AggregatedReport struct {
	TimeRange       string                    `json:"timeRange"`
	GeneratedAt     time.Time                 `json:"generatedAt"`
	TotalRuns       int                       `json:"totalRuns"`
	Frameworks      map[string]FrameworkStats `json:"frameworks"`
	Overall         Overall                   `json:"overall"`
	Trends          Trends                    `json:"trends"`
	Health          Health                    `json:"health"`
	Recommendations []Recommendation          `json:"recommendations"`
}

// FrameworkStats is the rollup of one framework's runs.
type FrameworkStats struct {
	Runs          int             `json:"runs"`
	TotalTests    int             `json:"totalTests"`
	PassedTests   int             `json:"passedTests"`
	FailedTests   int             `json:"failedTests"`
	SkippedTests  int             `json:"skippedTests"`
	TotalDuration float64         `json:"totalDuration"`
	SuccessRate   float64         `json:"successRate"`
	AvgDuration   float64         `json:"avgDuration"`
	Coverage      *types.Coverage `json:"coverage,omitempty"`
	LastRun       time.Time       `json:"lastRun"`
}

// Overall is the rollup across all frameworks.
type Overall struct {
	TotalTests    int             `json:"totalTests"`
	TotalPassed   int             `json:"totalPassed"`
	TotalFailed   int             `json:"totalFailed"`
	TotalSkipped  int             `json:"totalSkipped"`
	TotalDuration float64         `json:"totalDuration"`
	SuccessRate   float64         `json:"successRate"`
	AvgDuration   float64         `json:"avgDuration"`
	Coverage      *types.Coverage `json:"coverage,omitempty"`
}

// buildReport rolls up runs (oldest first) into a report. Coverage is summed
// at the (total, covered) level so large runs weigh more than small ones.
func buildReport(timeRange string, now time.Time, runs []RunMetric) AggregatedReport {
	r := AggregatedReport{
		TimeRange:   timeRange,
		GeneratedAt: now,
		TotalRuns:   len(runs),
		Frameworks:  make(map[string]FrameworkStats),
	}

	var (
		successSeries  []float64 // percent, runs with tests only
		durationSeries []float64
		countSeries    []float64
		coverageSeries []float64
		runSuccess     []float64 // fraction, for the health score
	)

	for _, m := range runs {
		fw := r.Frameworks[string(m.Framework)]
		fw.Runs++
		fw.TotalTests += m.TotalTests
		fw.PassedTests += m.PassedTests
		fw.FailedTests += m.FailedTests
		fw.SkippedTests += m.SkippedTests
		fw.TotalDuration += m.DurationMs
		if m.Timestamp.After(fw.LastRun) {
			fw.LastRun = m.Timestamp
		}

		r.Overall.TotalTests += m.TotalTests
		r.Overall.TotalPassed += m.PassedTests
		r.Overall.TotalFailed += m.FailedTests
		r.Overall.TotalSkipped += m.SkippedTests
		r.Overall.TotalDuration += m.DurationMs

		if m.Coverage != nil {
			fw.Coverage = addCoverage(fw.Coverage, *m.Coverage)
			r.Overall.Coverage = addCoverage(r.Overall.Coverage, *m.Coverage)
			coverageSeries = append(coverageSeries, m.Coverage.Lines.Percentage)
		}
		if m.TotalTests > 0 {
			rate := types.Percent(m.PassedTests, m.TotalTests)
			successSeries = append(successSeries, rate)
			runSuccess = append(runSuccess, rate/100)
			durationSeries = append(durationSeries, m.DurationMs)
			countSeries = append(countSeries, float64(m.TotalTests))
		}
		r.Frameworks[string(m.Framework)] = fw
	}

	for k, fw := range r.Frameworks {
		fw.SuccessRate = types.Percent(fw.PassedTests, fw.TotalTests)
		fw.AvgDuration = fw.TotalDuration / float64(fw.Runs)
		r.Frameworks[k] = fw
	}
	r.Overall.SuccessRate = types.Percent(r.Overall.TotalPassed, r.Overall.TotalTests)
	if len(runs) > 0 {
		r.Overall.AvgDuration = r.Overall.TotalDuration / float64(len(runs))
	}

	r.Trends = Trends{
		SuccessRateTrend: ClassifyTrend(successSeries),
		DurationTrend:    ClassifyTrend(durationSeries),
		TestCountTrend:   ClassifyTrend(countSeries),
		CoverageTrend:    ClassifyTrend(coverageSeries),
	}

	in := ScoreInput{Runs: len(runs), SuccessRate: r.Overall.SuccessRate, RunSuccess: runSuccess}
	if r.Overall.Coverage != nil {
		in.CoverageLines = r.Overall.Coverage.Lines.Percentage
	}
	r.Health = ComputeHealth(in)
	r.Recommendations = recommend(&r)
	return r
}

func addCoverage(acc *types.Coverage, c types.Coverage) *types.Coverage {
	var sum types.Coverage
	if acc != nil {
		sum = *acc
	}
	sum = sum.Add(c)
	return &sum
}
