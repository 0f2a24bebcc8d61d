package collector

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/testpulse/testpulse/pkg/types"
)

// The HTML report is a rendered page, not data. These patterns pick the
// headline counters out of the visible text ("12 passed", "Failed (2)").
var (
	htmlTagRe = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
	htmlCount = map[string]*regexp.Regexp{
		"passed":  regexp.MustCompile(`(?i)(?:(\d+)\s+passed|passed\s*[:(]?\s*(\d+))`),
		"failed":  regexp.MustCompile(`(?i)(?:(\d+)\s+failed|failed\s*[:(]?\s*(\d+))`),
		"skipped": regexp.MustCompile(`(?i)(?:(\d+)\s+skipped|skipped\s*[:(]?\s*(\d+))`),
		"flaky":   regexp.MustCompile(`(?i)(?:(\d+)\s+flaky|flaky\s*[:(]?\s*(\d+))`),
	}
	htmlDurationRe = regexp.MustCompile(`(?i)(?:total\s+time|duration)\s*:?\s*([\d.]+)\s*(ms|s|m|min)\b`)
)

type htmlParser struct{}

func (htmlParser) Name() string { return "html" }

func (htmlParser) CanParse(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.ToLower(head)
	return bytes.Contains(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

func (htmlParser) Parse(data []byte) (types.NormalizedResult, error) {
	text := htmlTagRe.ReplaceAllString(string(data), " ")

	counts := make(map[string]int, len(htmlCount))
	found := false
	for k, re := range htmlCount {
		if n, ok := firstCount(re, text); ok {
			counts[k] = n
			found = true
		}
	}
	if !found {
		return types.NormalizedResult{}, fmt.Errorf("html: no test counts found")
	}

	s := types.Summary{
		PassedTests:  counts["passed"] + counts["flaky"],
		FailedTests:  counts["failed"],
		SkippedTests: counts["skipped"],
		DurationMs:   htmlDuration(text),
	}
	s.TotalTests = s.PassedTests + s.FailedTests + s.SkippedTests
	s.Success = s.FailedTests == 0

	return types.NormalizedResult{
		Framework:  types.FrameworkBrowser,
		Summary:    s,
		TestSuites: []types.TestSuite{},
	}, nil
}

func firstCount(re *regexp.Regexp, text string) (int, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		n, err := strconv.Atoi(g)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func htmlDuration(text string) float64 {
	m := htmlDurationRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "s":
		return v * 1000
	case "m", "min":
		return v * 60_000
	default:
		return v
	}
}
