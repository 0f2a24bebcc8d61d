package history

import (
	"sort"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

// DefaultLimit is the page size used when Query.Limit is zero.
const DefaultLimit = 50

// Sort keys and orders accepted by Query.
const (
	SortByTimestamp = "timestamp"
	SortByDuration  = "duration"
	SortByTests     = "tests"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// Query selects a page of entries.
//
// Only one of Framework, Status and Source picks the candidate set, in that
// order of precedence; the others are ignored when a higher one is set. The
// date range is always applied on top.
type Query struct {
	Framework string
	Status    string // passed | failed
	Source    string
	DateFrom  time.Time // inclusive, zero means unbounded
	DateTo    time.Time // inclusive, zero means unbounded
	SortBy    string    // timestamp (default) | duration | tests
	SortOrder string    // desc (default) | asc
	Limit     int
	Offset    int
}

// QueryResult is one page of a Query.
type QueryResult struct {
	Results []types.HistoryEntry `json:"results"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"hasMore"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

func (q *Query) normalise() error {
	switch q.SortBy {
	case "":
		q.SortBy = SortByTimestamp
	case SortByTimestamp, SortByDuration, SortByTests:
	default:
		return errs.Invalid("sortBy", "%q is not one of timestamp, duration, tests", q.SortBy)
	}
	switch q.SortOrder {
	case "":
		q.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return errs.Invalid("sortOrder", "%q is not one of asc, desc", q.SortOrder)
	}
	switch q.Status {
	case "", string(types.StatusPassed), string(types.StatusFailed):
	default:
		return errs.Invalid("status", "%q is not one of passed, failed", q.Status)
	}
	if q.Limit < 0 {
		return errs.Invalid("limit", "must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		return errs.Invalid("offset", "must not be negative")
	}
	if !q.DateFrom.IsZero() && !q.DateTo.IsZero() && q.DateTo.Before(q.DateFrom) {
		return errs.Invalid("dateTo", "is before dateFrom")
	}
	return nil
}

// Query returns the page of entries selected by q.
func (m *Manager) Query(q Query) (QueryResult, error) {
	if err := q.normalise(); err != nil {
		return QueryResult{}, err
	}

	m.mu.RLock()
	var refs []int
	switch {
	case q.Framework != "":
		refs = m.idx.framework[q.Framework]
	case q.Status != "":
		refs = m.idx.status[q.Status]
	case q.Source != "":
		refs = m.idx.source[q.Source]
	default:
		refs = make([]int, len(m.entries))
		for i := range refs {
			refs[i] = i
		}
	}
	matched := make([]types.HistoryEntry, 0, len(refs))
	for _, i := range refs {
		if inRange(m.entries[i].Timestamp, q.DateFrom, q.DateTo) {
			matched = append(matched, m.entries[i])
		}
	}
	m.mu.RUnlock()

	sortEntries(matched, q.SortBy, q.SortOrder == SortDesc)

	res := QueryResult{Total: len(matched), Limit: q.Limit, Offset: q.Offset, Results: []types.HistoryEntry{}}
	if q.Offset < len(matched) {
		end := q.Offset + q.Limit
		if end > len(matched) {
			end = len(matched)
		}
		res.Results = matched[q.Offset:end]
	}
	res.HasMore = q.Offset+len(res.Results) < res.Total
	return res, nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

// sortEntries orders entries stably by key. Equal keys keep log order.
func sortEntries(entries []types.HistoryEntry, key string, desc bool) {
	less := func(a, b *types.HistoryEntry) bool {
		switch key {
		case SortByDuration:
			return a.Summary.DurationMs < b.Summary.DurationMs
		case SortByTests:
			return a.Summary.TotalTests < b.Summary.TotalTests
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(&entries[j], &entries[i])
		}
		return less(&entries[i], &entries[j])
	})
}

// StatsFilter restricts Stats to a framework and time range.
type StatsFilter struct {
	Framework string
	DateFrom  time.Time
	DateTo    time.Time
}

// Totals is a rollup over a set of entries. Rates are 0 when the
// denominator is 0.
type Totals struct {
	Runs          int     `json:"runs"`
	PassedRuns    int     `json:"passedRuns"`
	FailedRuns    int     `json:"failedRuns"`
	TotalTests    int     `json:"totalTests"`
	PassedTests   int     `json:"passedTests"`
	FailedTests   int     `json:"failedTests"`
	SkippedTests  int     `json:"skippedTests"`
	TotalDuration float64 `json:"totalDuration"`
	SuccessRate   float64 `json:"successRate"`
	AvgDuration   float64 `json:"avgDuration"`
}

func (t *Totals) add(e *types.HistoryEntry) {
	t.Runs++
	if e.Summary.Success {
		t.PassedRuns++
	} else {
		t.FailedRuns++
	}
	t.TotalTests += e.Summary.TotalTests
	t.PassedTests += e.Summary.PassedTests
	t.FailedTests += e.Summary.FailedTests
	t.SkippedTests += e.Summary.SkippedTests
	t.TotalDuration += e.Summary.DurationMs
}

func (t *Totals) finish() {
	t.SuccessRate = types.Percent(t.PassedTests, t.TotalTests)
	if t.Runs > 0 {
		t.AvgDuration = t.TotalDuration / float64(t.Runs)
	}
}

// Stats is Totals overall and per framework.
type Stats struct {
	Overall    Totals            `json:"overall"`
	Frameworks map[string]Totals `json:"frameworks"`
}

// Stats rolls up the entries matching f. An empty match yields zero totals
// and an empty Frameworks map.
func (m *Manager) Stats(f StatsFilter) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Stats{Frameworks: make(map[string]Totals)}
	visit := func(e *types.HistoryEntry) {
		if !inRange(e.Timestamp, f.DateFrom, f.DateTo) {
			return
		}
		out.Overall.add(e)
		fw := out.Frameworks[string(e.Framework)]
		fw.add(e)
		out.Frameworks[string(e.Framework)] = fw
	}
	if f.Framework != "" {
		for _, i := range m.idx.framework[f.Framework] {
			visit(&m.entries[i])
		}
	} else {
		for i := range m.entries {
			visit(&m.entries[i])
		}
	}

	out.Overall.finish()
	for k, t := range out.Frameworks {
		t.finish()
		out.Frameworks[k] = t
	}
	return out
}
