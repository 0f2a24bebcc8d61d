package types

import (
	"encoding/json"
	"time"
)

// Framework identifies the category of tool that produced a result.
type Framework string

const (
	FrameworkUnit     Framework = "unit"
	FrameworkBrowser  Framework = "browser"
	FrameworkCoverage Framework = "coverage"
	FrameworkExternal Framework = "external"
)

// TestStatus is the outcome of a single test case.
type TestStatus string

const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
)

// NormalizedResult is one observed test run, independent of the tool that
// produced it.
type NormalizedResult struct {
	ID         string          `json:"id"`
	Framework  Framework       `json:"framework"`
	Source     string          `json:"source"`
	Timestamp  time.Time       `json:"timestamp"`
	Summary    Summary         `json:"summary"`
	Coverage   *Coverage       `json:"coverage,omitempty"`
	TestSuites []TestSuite     `json:"testSuites"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Summary holds the run-level totals. The counts are taken from the input as
// reported; PassedTests+FailedTests+SkippedTests may not add up to TotalTests.
type Summary struct {
	TotalTests   int     `json:"totalTests"`
	PassedTests  int     `json:"passedTests"`
	FailedTests  int     `json:"failedTests"`
	SkippedTests int     `json:"skippedTests"`
	DurationMs   float64 `json:"durationMs"`
	Success      bool    `json:"success"`
}

// SuccessRate returns PassedTests/TotalTests as a percentage, or 0 when the
// run reported no tests.
func (s Summary) SuccessRate() float64 {
	return Percent(s.PassedTests, s.TotalTests)
}

// CoverageMetric is one coverage dimension.
type CoverageMetric struct {
	Total      int     `json:"total"`
	Covered    int     `json:"covered"`
	Percentage float64 `json:"percentage"`
}

// NewCoverageMetric builds a metric and derives its percentage.
func NewCoverageMetric(total, covered int) CoverageMetric {
	return CoverageMetric{Total: total, Covered: covered, Percentage: Percent(covered, total)}
}

// Add folds o into m and re-derives the percentage from the summed counts.
func (m CoverageMetric) Add(o CoverageMetric) CoverageMetric {
	return NewCoverageMetric(m.Total+o.Total, m.Covered+o.Covered)
}

// Coverage groups the four coverage dimensions. Files is only populated by
// parsers that see per-file data (LCOV).
type Coverage struct {
	Lines      CoverageMetric `json:"lines"`
	Functions  CoverageMetric `json:"functions"`
	Branches   CoverageMetric `json:"branches"`
	Statements CoverageMetric `json:"statements"`
	Files      []FileCoverage `json:"files,omitempty"`
}

// Add sums two coverage blocks at the (total, covered) level. Per-file data
// is not carried over.
func (c Coverage) Add(o Coverage) Coverage {
	return Coverage{
		Lines:      c.Lines.Add(o.Lines),
		Functions:  c.Functions.Add(o.Functions),
		Branches:   c.Branches.Add(o.Branches),
		Statements: c.Statements.Add(o.Statements),
	}
}

// FileCoverage is the coverage of a single source file.
type FileCoverage struct {
	Path      string         `json:"path"`
	Lines     CoverageMetric `json:"lines"`
	Functions CoverageMetric `json:"functions"`
	Branches  CoverageMetric `json:"branches"`
}

// TestSuite is an ordered group of test cases, usually one test file.
type TestSuite struct {
	Name         string     `json:"name"`
	TestCount    int        `json:"testCount"`
	FailureCount int        `json:"failureCount"`
	DurationMs   float64    `json:"durationMs"`
	Tests        []TestCase `json:"tests"`
}

// TestCase is one executed test.
type TestCase struct {
	Name       string     `json:"name"`
	Status     TestStatus `json:"status"`
	DurationMs float64    `json:"durationMs"`
	Error      string     `json:"error,omitempty"`
}

// Percent returns part/whole*100, or 0 when whole is not positive.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
