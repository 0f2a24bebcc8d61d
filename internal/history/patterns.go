package history

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

// Defaults for PatternQuery.
const (
	DefaultPatternDays    = 7
	DefaultMinOccurrences = 2
	maxSignatureLen       = 200
)

// Applied in order: timestamps and UUIDs contain digits, and file:line:col
// keeps its file name, so each must be replaced before the bare digit rule.
var (
	isoTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	uuidRe         = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	lineColRe      = regexp.MustCompile(`:\d+:\d+`)
	digitsRe       = regexp.MustCompile(`\d+`)
	spaceRe        = regexp.MustCompile(`\s+`)
)

// Signature reduces a failure message to the form used to group recurring
// failures: volatile tokens become placeholders, whitespace is collapsed and
// the result is cut to 200 characters.
func Signature(msg string) string {
	s := isoTimestampRe.ReplaceAllString(msg, "<TIMESTAMP>")
	s = uuidRe.ReplaceAllString(s, "<UUID>")
	s = lineColRe.ReplaceAllString(s, ":<LINE>:<COL>")
	s = digitsRe.ReplaceAllString(s, "<N>")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxSignatureLen {
		s = string(r[:maxSignatureLen])
	}
	return s
}

// PatternQuery selects the failures mined by FailurePatterns.
type PatternQuery struct {
	Framework      string
	Days           int
	MinOccurrences int
}

// FailurePattern is a group of test failures sharing a Signature.
type FailurePattern struct {
	Error       string        `json:"error"`
	Occurrences int           `json:"occurrences"`
	Tests       []PatternTest `json:"tests"`
	LastSeen    time.Time     `json:"lastSeen"`
	Frameworks  []string      `json:"frameworks"`
	Sources     []string      `json:"sources"`

	frameworks map[string]bool
	sources    map[string]bool
}

// PatternTest is one occurrence of a FailurePattern.
type PatternTest struct {
	Name      string    `json:"name"`
	Suite     string    `json:"suite"`
	Timestamp time.Time `json:"timestamp"`
}

// FailurePatterns groups the failed tests of failed runs in the last q.Days
// days by Signature and returns the groups seen at least q.MinOccurrences
// times, most frequent first.
func (m *Manager) FailurePatterns(q PatternQuery) ([]FailurePattern, error) {
	if q.Days < 0 {
		return nil, errs.Invalid("days", "must not be negative")
	}
	if q.MinOccurrences < 0 {
		return nil, errs.Invalid("minOccurrences", "must not be negative")
	}
	if q.Days == 0 {
		q.Days = DefaultPatternDays
	}
	if q.MinOccurrences == 0 {
		q.MinOccurrences = DefaultMinOccurrences
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	from := m.now().UTC().AddDate(0, 0, -q.Days)
	groups := make(map[string]*FailurePattern)

	for _, i := range m.idx.status[string(types.StatusFailed)] {
		e := &m.entries[i]
		if e.Timestamp.Before(from) || (q.Framework != "" && string(e.Framework) != q.Framework) {
			continue
		}
		for _, suite := range e.TestSuites {
			for _, tc := range suite.Tests {
				if tc.Status != types.StatusFailed || strings.TrimSpace(tc.Error) == "" {
					continue
				}
				sig := Signature(tc.Error)
				p, ok := groups[sig]
				if !ok {
					p = &FailurePattern{
						Error:      sig,
						frameworks: make(map[string]bool),
						sources:    make(map[string]bool),
					}
					groups[sig] = p
				}
				p.Occurrences++
				p.Tests = append(p.Tests, PatternTest{Name: tc.Name, Suite: suite.Name, Timestamp: e.Timestamp})
				if e.Timestamp.After(p.LastSeen) {
					p.LastSeen = e.Timestamp
				}
				p.frameworks[string(e.Framework)] = true
				p.sources[e.Source] = true
			}
		}
	}

	out := make([]FailurePattern, 0, len(groups))
	for _, p := range groups {
		if p.Occurrences < q.MinOccurrences {
			continue
		}
		p.Frameworks = sortedKeys(p.frameworks)
		p.Sources = sortedKeys(p.sources)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Error < out[j].Error
	})
	return out, nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
