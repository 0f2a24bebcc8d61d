package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func run(fw types.Framework, ago time.Duration, passed, failed int, durMs float64) types.NormalizedResult {
	return types.NormalizedResult{
		ID:        string(fw) + "-" + ago.String(),
		Framework: fw,
		Source:    string(fw) + ".json",
		Timestamp: now.Add(-ago),
		Summary: types.Summary{
			TotalTests:  passed + failed,
			PassedTests: passed,
			FailedTests: failed,
			DurationMs:  durMs,
			Success:     failed == 0,
		},
	}
}

func coverageRun(ago time.Duration, total, covered int) types.NormalizedResult {
	r := run(types.FrameworkCoverage, ago, 0, 0, 0)
	lines := types.NewCoverageMetric(total, covered)
	r.Coverage = &types.Coverage{Lines: lines, Statements: lines,
		Files: []types.FileCoverage{{Path: "a.js", Lines: lines}}}
	return r
}

func newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "metrics.json"), WithClock(func() time.Time { return now }))
}

func TestReport_FrameworkRollup(t *testing.T) {
	a := newAggregator(t)
	for i := 0; i < 10; i++ {
		a.Record(run(types.FrameworkUnit, time.Duration(i+1)*time.Minute, 8, 2, 100))
	}
	a.Record(run(types.FrameworkBrowser, time.Minute, 3, 1, 400))

	r, err := a.GetAggregatedData("1h", false)
	require.NoError(t, err)

	assert.Equal(t, "1h", r.TimeRange)
	assert.Equal(t, 11, r.TotalRuns)
	unit := r.Frameworks["unit"]
	assert.Equal(t, 10, unit.Runs)
	assert.Equal(t, 80.0, unit.SuccessRate)
	assert.Equal(t, 100.0, unit.AvgDuration)
	assert.Equal(t, now.Add(-time.Minute), unit.LastRun)

	browser := r.Frameworks["browser"]
	assert.Equal(t, 75.0, browser.SuccessRate)

	assert.Equal(t, 104, r.Overall.TotalTests)
	assert.Equal(t, 83, r.Overall.TotalPassed)
	assert.InDelta(t, 83.0/104*100, r.Overall.SuccessRate, 1e-9)
	assert.InDelta(t, 1400.0/11, r.Overall.AvgDuration, 1e-9)
	assert.Nil(t, r.Overall.Coverage)
}

func TestReport_ZeroTotalsHaveZeroRates(t *testing.T) {
	a := newAggregator(t)
	a.Record(run(types.FrameworkExternal, time.Minute, 0, 0, 0))

	r, err := a.GetAggregatedData("24h", false)
	require.NoError(t, err)
	assert.Zero(t, r.Overall.SuccessRate)
	assert.Zero(t, r.Frameworks["external"].SuccessRate)
	assert.Equal(t, 1, r.TotalRuns)
}

func TestReport_CoverageSummedNotAveraged(t *testing.T) {
	a := newAggregator(t)
	a.Record(coverageRun(2*time.Minute, 100, 10))
	a.Record(coverageRun(time.Minute, 900, 900))

	r, err := a.GetAggregatedData("1h", false)
	require.NoError(t, err)
	require.NotNil(t, r.Overall.Coverage)
	assert.Equal(t, types.CoverageMetric{Total: 1000, Covered: 910, Percentage: 91}, r.Overall.Coverage.Lines)
	assert.Nil(t, r.Overall.Coverage.Files, "per-file data is not carried into reports")
	assert.Equal(t, 91.0, r.Frameworks["coverage"].Coverage.Lines.Percentage)
	assert.Equal(t, TrendIncreasing, r.Trends.CoverageTrend)
}

func TestReport_HealthAndRecommendations(t *testing.T) {
	a := newAggregator(t)
	for i := 0; i < 4; i++ {
		a.Record(run(types.FrameworkUnit, time.Duration(i+1)*time.Minute, 7, 3, 100))
	}
	a.Record(coverageRun(30*time.Second, 100, 40))

	r, err := a.GetAggregatedData("1h", false)
	require.NoError(t, err)

	// 70% success -> 28, 40% coverage -> 12, no variance -> 20, recent 0.7 -> 7.
	assert.InDelta(t, 67.0, r.Health.Score, 1e-6)
	assert.Equal(t, LevelFair, r.Health.Level)

	keys := make([]string, 0, len(r.Recommendations))
	for _, rec := range r.Recommendations {
		keys = append(keys, rec.Key)
	}
	assert.Equal(t, []string{"success_rate", "coverage"}, keys)
	assert.Equal(t, "warning", r.Recommendations[0].Level)
}

func TestReport_CriticalRecommendationsFirst(t *testing.T) {
	a := newAggregator(t)
	a.Record(run(types.FrameworkUnit, 3*time.Minute, 9, 1, 100))
	a.Record(run(types.FrameworkUnit, 2*time.Minute, 2, 8, 200))
	a.Record(run(types.FrameworkUnit, 1*time.Minute, 1, 9, 300))

	r, err := a.GetAggregatedData("1h", false)
	require.NoError(t, err)
	assert.Equal(t, TrendDecreasing, r.Trends.SuccessRateTrend)
	assert.Equal(t, TrendIncreasing, r.Trends.DurationTrend)
	require.NotEmpty(t, r.Recommendations)
	assert.Equal(t, "critical", r.Recommendations[0].Level)

	levels := map[string]string{}
	for _, rec := range r.Recommendations {
		levels[rec.Key] = rec.Level
	}
	assert.Equal(t, map[string]string{
		"success_rate":   "critical",
		"health":         "critical",
		"success_trend":  "warning",
		"duration_trend": "info",
	}, levels)
}

func TestReport_NoRuns(t *testing.T) {
	a := newAggregator(t)
	r, err := a.GetAggregatedData("", false)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeRange, r.TimeRange)
	assert.Zero(t, r.TotalRuns)
	assert.Equal(t, Health{Score: 0, Level: LevelCritical}, r.Health)
	require.Len(t, r.Recommendations, 1)
	assert.Equal(t, "no_data", r.Recommendations[0].Key)
	assert.NotNil(t, r.Frameworks)
}

func TestGetAggregatedData_Memoized(t *testing.T) {
	a := newAggregator(t)
	a.Record(run(types.FrameworkUnit, time.Minute, 1, 0, 1))

	r, err := a.GetAggregatedData("24h", false)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalRuns)

	a.Record(run(types.FrameworkUnit, 2*time.Minute, 1, 0, 1))
	r, err = a.GetAggregatedData("24h", false)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalRuns, "Record does not invalidate the cache")

	r, err = a.GetAggregatedData("24h", true)
	require.NoError(t, err)
	assert.Equal(t, 2, r.TotalRuns)

	a.Record(run(types.FrameworkUnit, 3*time.Minute, 1, 0, 1))
	a.Refresh()
	r, err = a.GetAggregatedData("24h", false)
	require.NoError(t, err)
	assert.Equal(t, 3, r.TotalRuns)
}

func TestGetAggregatedData_Windows(t *testing.T) {
	a := newAggregator(t)
	a.Record(run(types.FrameworkUnit, 30*time.Minute, 1, 0, 1))
	a.Record(run(types.FrameworkUnit, 3*time.Hour, 1, 0, 1))
	a.Record(run(types.FrameworkUnit, 3*24*time.Hour, 1, 0, 1))
	a.Record(run(types.FrameworkUnit, 60*24*time.Hour, 1, 0, 1))

	want := map[string]int{"1h": 1, "24h": 2, "7d": 3, "30d": 3, "all": 4, "90m": 1, "ALL": 4}
	for tr, n := range want {
		r, err := a.GetAggregatedData(tr, false)
		require.NoError(t, err, tr)
		assert.Equal(t, n, r.TotalRuns, tr)
	}

	for _, bad := range []string{"yesterday", "0d", "-1h", "xd"} {
		_, err := a.GetAggregatedData(bad, false)
		assert.True(t, errs.IsValidation(err), bad)
	}

	runs, err := a.Runs("24h")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.True(t, runs[0].Timestamp.Before(runs[1].Timestamp))
}

func TestSeedAndPrune(t *testing.T) {
	a := newAggregator(t)
	var entries []types.HistoryEntry
	for i := 1; i <= 5; i++ {
		r := run(types.FrameworkUnit, time.Duration(i)*24*time.Hour, 1, 0, 1)
		entries = append(entries, types.HistoryEntry{NormalizedResult: r, ID: "h" + r.ID, ResultID: r.ID})
	}

	assert.Equal(t, 5, a.Seed(entries))
	assert.Zero(t, a.Seed(entries), "seeding only fills an empty log")

	runs, err := a.Runs("all")
	require.NoError(t, err)
	assert.Equal(t, entries[4].ResultID, runs[0].ID, "oldest first, keyed by result id")

	assert.Equal(t, 2, a.Prune(now.Add(-3*24*time.Hour-time.Minute), 0))
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.Prune(time.Time{}, 2))
	assert.Equal(t, 2, a.Len())
	assert.Zero(t, a.Prune(time.Time{}, 2))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.json")
	a := New(path, WithClock(func() time.Time { return now }))
	a.Record(run(types.FrameworkUnit, time.Hour, 4, 1, 10))
	a.Record(coverageRun(time.Minute, 10, 5))

	b := New(path, WithClock(func() time.Time { return now }))
	require.NoError(t, b.Load())
	assert.Equal(t, 2, b.Len())

	r, err := b.GetAggregatedData("all", false)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Overall.TotalTests)
	assert.Equal(t, 50.0, r.Overall.Coverage.Lines.Percentage)

	missing := New(filepath.Join(t.TempDir(), "none.json"))
	assert.NoError(t, missing.Load())
	assert.Zero(t, missing.Len())
}
