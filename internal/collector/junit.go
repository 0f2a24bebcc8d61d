package collector

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jstemmer/go-junit-report/v2/junit"

	"github.com/testpulse/testpulse/pkg/types"
)

type junitParser struct{}

func (junitParser) Name() string { return "junit" }

func (junitParser) CanParse(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	head = bytes.TrimSpace(head)
	return bytes.HasPrefix(head, []byte("<")) && bytes.Contains(head, []byte("<testsuite"))
}

// Parse accepts either a <testsuites> document or a bare <testsuite>.
func (junitParser) Parse(data []byte) (types.NormalizedResult, error) {
	var doc junit.Testsuites
	if err := xml.Unmarshal(data, &doc); err != nil {
		var single junit.Testsuite
		if err2 := xml.Unmarshal(data, &single); err2 != nil {
			return types.NormalizedResult{}, fmt.Errorf("decode junit xml: %w", err)
		}
		doc.Suites = []junit.Testsuite{single}
	}

	res := types.NormalizedResult{
		Framework:  types.FrameworkUnit,
		TestSuites: make([]types.TestSuite, 0, len(doc.Suites)),
	}
	for _, s := range doc.Suites {
		if res.Timestamp.IsZero() && s.Timestamp != "" {
			if t, err := time.Parse("2006-01-02T15:04:05", s.Timestamp); err == nil {
				res.Timestamp = t.UTC()
			} else if t, err := time.Parse(time.RFC3339, s.Timestamp); err == nil {
				res.Timestamp = t.UTC()
			}
		}

		suite := types.TestSuite{
			Name:       s.Name,
			DurationMs: secondsToMs(s.Time),
			Tests:      make([]types.TestCase, 0, len(s.Testcases)),
		}
		for _, c := range s.Testcases {
			tc := types.TestCase{
				Name:       c.Name,
				Status:     types.StatusPassed,
				DurationMs: secondsToMs(c.Time),
			}
			if c.Classname != "" {
				tc.Name = c.Classname + " " + c.Name
			}
			switch {
			case c.Failure != nil:
				tc.Status = types.StatusFailed
				tc.Error = junitMessage(c.Failure)
			case c.Error != nil:
				tc.Status = types.StatusFailed
				tc.Error = junitMessage(c.Error)
			case c.Skipped != nil:
				tc.Status = types.StatusSkipped
			}
			if tc.Status == types.StatusFailed {
				suite.FailureCount++
			}
			suite.TestCount++
			suite.Tests = append(suite.Tests, tc)
		}
		if suite.DurationMs == 0 {
			for _, tc := range suite.Tests {
				suite.DurationMs += tc.DurationMs
			}
		}
		res.TestSuites = append(res.TestSuites, suite)
	}

	res.Summary = summarise(res.TestSuites)
	return res, nil
}

func junitMessage(r *junit.Result) string {
	msg := strings.TrimSpace(r.Message)
	if data := strings.TrimSpace(r.Data); data != "" {
		if msg == "" {
			return data
		}
		return msg + "\n" + data
	}
	return msg
}

// secondsToMs converts a JUnit time attribute (decimal seconds) to
// milliseconds. Unparsable values count as zero.
func secondsToMs(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f * 1000
}
