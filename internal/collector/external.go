package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/testpulse/testpulse/pkg/types"
)

// externalReport is a result that some other tool has already aggregated.
// Counts are read either flat at the top level or from a "summary" object,
// which is how testpulse writes its own snapshots. "duration" is accepted as
// an alias of durationMs.
type externalReport struct {
	Framework    string            `json:"framework"`
	Timestamp    json.RawMessage   `json:"timestamp"`
	TotalTests   int               `json:"totalTests"`
	PassedTests  int               `json:"passedTests"`
	FailedTests  int               `json:"failedTests"`
	SkippedTests int               `json:"skippedTests"`
	DurationMs   *float64          `json:"durationMs"`
	Duration     *float64          `json:"duration"`
	Success      *bool             `json:"success"`
	Coverage     *types.Coverage   `json:"coverage"`
	TestSuites   []types.TestSuite `json:"testSuites"`
	Summary      *types.Summary    `json:"summary"`
}

type externalParser struct{}

func (externalParser) Name() string { return "external" }

func (externalParser) CanParse(data []byte) bool {
	obj := jsonObjectKeys(data)
	if obj == nil {
		return false
	}
	if isNumber(obj["totalTests"]) {
		return true
	}
	summary := jsonObjectKeys(obj["summary"])
	return summary != nil && isNumber(summary["totalTests"])
}

func (externalParser) Parse(data []byte) (types.NormalizedResult, error) {
	var rep externalReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return types.NormalizedResult{}, fmt.Errorf("decode aggregated result: %w", err)
	}

	fw := types.Framework(strings.TrimSpace(rep.Framework))
	if fw == "" {
		fw = types.FrameworkExternal
	}

	res := types.NormalizedResult{
		Framework: fw,
		Timestamp: parseTimestamp(rep.Timestamp),
		Summary: types.Summary{
			TotalTests:   rep.TotalTests,
			PassedTests:  rep.PassedTests,
			FailedTests:  rep.FailedTests,
			SkippedTests: rep.SkippedTests,
			Success:      rep.FailedTests == 0,
		},
		Coverage:   rep.Coverage,
		TestSuites: rep.TestSuites,
	}
	if rep.Summary != nil && rep.TotalTests == 0 {
		res.Summary = *rep.Summary
	}
	switch {
	case rep.DurationMs != nil:
		res.Summary.DurationMs = *rep.DurationMs
	case rep.Duration != nil:
		res.Summary.DurationMs = *rep.Duration
	}
	if rep.Success != nil {
		res.Summary.Success = *rep.Success
	}
	if res.TestSuites == nil {
		res.TestSuites = []types.TestSuite{}
	}
	return res, nil
}
