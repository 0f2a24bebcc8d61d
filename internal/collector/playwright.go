package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/testpulse/testpulse/pkg/types"
)

// Playwright JSON reporter output. Suites nest; specs hold one test per
// configured project, and each test holds one result per attempt.
type pwReport struct {
	Suites []pwSuite `json:"suites"`
	Stats  *pwStats  `json:"stats"`
	Errors []pwError `json:"errors"`
}

type pwStats struct {
	StartTime  json.RawMessage `json:"startTime"`
	Duration   float64         `json:"duration"`
	Expected   int             `json:"expected"`
	Unexpected int             `json:"unexpected"`
	Flaky      int             `json:"flaky"`
	Skipped    int             `json:"skipped"`
}

type pwSuite struct {
	Title  string    `json:"title"`
	File   string    `json:"file"`
	Specs  []pwSpec  `json:"specs"`
	Suites []pwSuite `json:"suites"`
}

type pwSpec struct {
	Title string   `json:"title"`
	Tests []pwTest `json:"tests"`
}

type pwTest struct {
	ProjectName string     `json:"projectName"`
	Status      string     `json:"status"` // expected | unexpected | flaky | skipped
	Results     []pwResult `json:"results"`
}

type pwResult struct {
	Status   string    `json:"status"`
	Duration float64   `json:"duration"`
	Error    *pwError  `json:"error"`
	Errors   []pwError `json:"errors"`
}

type pwError struct {
	Message string `json:"message"`
}

type playwrightParser struct{}

func (playwrightParser) Name() string { return "playwright" }

func (playwrightParser) CanParse(data []byte) bool {
	obj := jsonObjectKeys(data)
	if obj == nil {
		return false
	}
	raw, ok := obj["suites"]
	if !ok {
		return false
	}
	var suites []json.RawMessage
	return json.Unmarshal(raw, &suites) == nil
}

func (playwrightParser) Parse(data []byte) (types.NormalizedResult, error) {
	var rep pwReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return types.NormalizedResult{}, fmt.Errorf("decode playwright report: %w", err)
	}

	res := types.NormalizedResult{
		Framework:  types.FrameworkBrowser,
		TestSuites: make([]types.TestSuite, 0, len(rep.Suites)),
	}
	for _, s := range rep.Suites {
		suite := types.TestSuite{Name: s.File}
		if suite.Name == "" {
			suite.Name = s.Title
		}
		collectPlaywrightSpecs(&suite, s, nil)
		res.TestSuites = append(res.TestSuites, suite)
	}

	if rep.Stats != nil {
		st := rep.Stats
		res.Timestamp = parseTimestamp(st.StartTime)
		res.Summary = types.Summary{
			TotalTests:   st.Expected + st.Unexpected + st.Flaky + st.Skipped,
			PassedTests:  st.Expected + st.Flaky,
			FailedTests:  st.Unexpected,
			SkippedTests: st.Skipped,
			DurationMs:   st.Duration,
		}
		res.Summary.Success = st.Unexpected == 0
	} else {
		res.Summary = summarise(res.TestSuites)
	}
	if len(rep.Errors) > 0 {
		res.Summary.Success = false
	}
	return res, nil
}

// collectPlaywrightSpecs flattens s and its nested suites into dst. Test
// names are the describe titles joined with " › ".
func collectPlaywrightSpecs(dst *types.TestSuite, s pwSuite, path []string) {
	if s.Title != "" && s.Title != s.File {
		path = append(path, s.Title)
	}
	for _, spec := range s.Specs {
		name := strings.Join(append(append([]string(nil), path...), spec.Title), " › ")
		for _, t := range spec.Tests {
			tc := types.TestCase{Name: name, Status: playwrightStatus(t)}
			if len(spec.Tests) > 1 && t.ProjectName != "" {
				tc.Name = fmt.Sprintf("[%s] %s", t.ProjectName, name)
			}
			for _, r := range t.Results {
				tc.DurationMs += r.Duration
			}
			if tc.Status == types.StatusFailed {
				tc.Error = lastPlaywrightError(t.Results)
				dst.FailureCount++
			}
			dst.DurationMs += tc.DurationMs
			dst.TestCount++
			dst.Tests = append(dst.Tests, tc)
		}
	}
	for _, child := range s.Suites {
		collectPlaywrightSpecs(dst, child, path)
	}
}

func playwrightStatus(t pwTest) types.TestStatus {
	switch t.Status {
	case "expected", "flaky":
		if len(t.Results) > 0 && t.Results[len(t.Results)-1].Status == "skipped" {
			return types.StatusSkipped
		}
		return types.StatusPassed
	case "unexpected":
		return types.StatusFailed
	default:
		return types.StatusSkipped
	}
}

func lastPlaywrightError(results []pwResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Error != nil && r.Error.Message != "" {
			return r.Error.Message
		}
		for _, e := range r.Errors {
			if e.Message != "" {
				return e.Message
			}
		}
	}
	return ""
}
