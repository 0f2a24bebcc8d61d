package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/testpulse/testpulse/pkg/types"
)

// jestReport is the subset of `jest --json` output we read.
type jestReport struct {
	NumTotalTests   int              `json:"numTotalTests"`
	NumPassedTests  int              `json:"numPassedTests"`
	NumFailedTests  int              `json:"numFailedTests"`
	NumPendingTests int              `json:"numPendingTests"`
	NumTodoTests    int              `json:"numTodoTests"`
	Success         bool             `json:"success"`
	StartTime       json.RawMessage  `json:"startTime"`
	TestResults     []jestTestResult `json:"testResults"`
}

type jestTestResult struct {
	Name             string          `json:"name"`
	StartTime        int64           `json:"startTime"`
	EndTime          int64           `json:"endTime"`
	Message          string          `json:"message"`
	AssertionResults []jestAssertion `json:"assertionResults"`
}

type jestAssertion struct {
	FullName        string   `json:"fullName"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	Duration        *float64 `json:"duration"`
	FailureMessages []string `json:"failureMessages"`
}

type jestParser struct{}

func (jestParser) Name() string { return "jest" }

func (jestParser) CanParse(data []byte) bool {
	obj := jsonObjectKeys(data)
	return obj != nil && isNumber(obj["numTotalTests"])
}

func (jestParser) Parse(data []byte) (types.NormalizedResult, error) {
	var rep jestReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return types.NormalizedResult{}, fmt.Errorf("decode jest report: %w", err)
	}

	res := types.NormalizedResult{
		Framework: types.FrameworkUnit,
		Timestamp: parseTimestamp(rep.StartTime),
		Summary: types.Summary{
			TotalTests:   rep.NumTotalTests,
			PassedTests:  rep.NumPassedTests,
			FailedTests:  rep.NumFailedTests,
			SkippedTests: rep.NumPendingTests + rep.NumTodoTests,
			Success:      rep.Success,
		},
		TestSuites: make([]types.TestSuite, 0, len(rep.TestResults)),
	}

	for _, tr := range rep.TestResults {
		suite := types.TestSuite{
			Name:  tr.Name,
			Tests: make([]types.TestCase, 0, len(tr.AssertionResults)),
		}
		if tr.EndTime > tr.StartTime {
			suite.DurationMs = float64(tr.EndTime - tr.StartTime)
		}
		for _, a := range tr.AssertionResults {
			tc := types.TestCase{
				Name:   a.FullName,
				Status: jestStatus(a.Status),
				Error:  strings.Join(a.FailureMessages, "\n"),
			}
			if tc.Name == "" {
				tc.Name = a.Title
			}
			if a.Duration != nil {
				tc.DurationMs = *a.Duration
			}
			suite.Tests = append(suite.Tests, tc)
			suite.TestCount++
			if tc.Status == types.StatusFailed {
				suite.FailureCount++
			}
		}
		// A suite that failed to run has no assertions but a message.
		if len(tr.AssertionResults) == 0 && tr.Message != "" {
			suite.FailureCount++
		}
		res.Summary.DurationMs += suite.DurationMs
		res.TestSuites = append(res.TestSuites, suite)
	}
	return res, nil
}

// jestStatus maps Jest assertion statuses onto TestStatus.
func jestStatus(s string) types.TestStatus {
	switch s {
	case "passed":
		return types.StatusPassed
	case "failed":
		return types.StatusFailed
	default: // pending, skipped, todo, disabled
		return types.StatusSkipped
	}
}
