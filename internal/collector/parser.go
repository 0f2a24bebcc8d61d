package collector

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/testpulse/testpulse/pkg/types"
)

// Parser recognises and decodes one report format.
//
// Parse fills every field of NormalizedResult it can derive from the input.
// The collector assigns ID, Source and Raw, and sets Timestamp when the
// parser leaves it zero.
type Parser interface {
	Name() string
	CanParse(data []byte) bool
	Parse(data []byte) (types.NormalizedResult, error)
}

// DefaultParsers returns the built-in parsers in detection priority.
func DefaultParsers() []Parser {
	return []Parser{
		jestParser{},
		playwrightParser{},
		externalParser{},
		junitParser{},
		lcovParser{},
		htmlParser{},
	}
}

// detect returns the first parser in chain that accepts data, or nil.
func detect(chain []Parser, data []byte) Parser {
	for _, p := range chain {
		if p.CanParse(data) {
			return p
		}
	}
	return nil
}

// jsonObjectKeys decodes the top level of data as a JSON object. It returns
// nil when data is not an object.
func jsonObjectKeys(data []byte) map[string]json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil
	}
	return obj
}

// isNumber reports whether raw is a JSON number.
func isNumber(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(string(raw), 64)
	return err == nil
}

// summarise derives a Summary from the cases of suites. Used when the report
// carries no totals of its own.
func summarise(suites []types.TestSuite) types.Summary {
	var s types.Summary
	for _, suite := range suites {
		s.DurationMs += suite.DurationMs
		for _, tc := range suite.Tests {
			s.TotalTests++
			switch tc.Status {
			case types.StatusPassed:
				s.PassedTests++
			case types.StatusFailed:
				s.FailedTests++
			case types.StatusSkipped:
				s.SkippedTests++
			}
		}
	}
	s.Success = s.FailedTests == 0
	return s
}

// parseTimestamp accepts RFC 3339 strings and millisecond epoch numbers.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
