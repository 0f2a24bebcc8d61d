package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

// Trend bucket sizes.
const (
	IntervalHour  = "hour"
	IntervalDay   = "day"
	IntervalWeek  = "week"
	IntervalMonth = "month"
)

// DefaultTrendDays is the window used when TrendQuery.Days is zero.
const DefaultTrendDays = 30

// TrendQuery selects the window and bucket size of a trend series.
type TrendQuery struct {
	Framework string
	Days      int
	Interval  string // hour | day (default) | week | month
}

// TrendPoint is one calendar bucket. Coverage is the line coverage of the
// latest run in the bucket that reported coverage, nil when none did.
type TrendPoint struct {
	Period      string    `json:"period"`
	Start       time.Time `json:"start"`
	Runs        int       `json:"runs"`
	TotalTests  int       `json:"totalTests"`
	PassedTests int       `json:"passedTests"`
	FailedTests int       `json:"failedTests"`
	SuccessRate float64   `json:"successRate"`
	AvgDuration float64   `json:"avgDuration"`
	Coverage    *float64  `json:"coverage"`

	duration float64
}

// Trends buckets the entries of the last q.Days days by calendar interval,
// oldest bucket first. Buckets without runs are omitted.
func (m *Manager) Trends(q TrendQuery) ([]TrendPoint, error) {
	if q.Interval == "" {
		q.Interval = IntervalDay
	}
	switch q.Interval {
	case IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
	default:
		return nil, errs.Invalid("interval", "%q is not one of hour, day, week, month", q.Interval)
	}
	if q.Days < 0 {
		return nil, errs.Invalid("days", "must not be negative")
	}
	if q.Days == 0 {
		q.Days = DefaultTrendDays
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	from := m.now().UTC().AddDate(0, 0, -q.Days)
	buckets := make(map[time.Time]*TrendPoint)

	// entries is in timestamp order, so the last coverage seen per bucket
	// is the latest one.
	for i := range m.entries {
		e := &m.entries[i]
		if e.Timestamp.Before(from) {
			continue
		}
		if q.Framework != "" && string(e.Framework) != q.Framework {
			continue
		}
		start := bucketStart(e.Timestamp, q.Interval)
		p, ok := buckets[start]
		if !ok {
			p = &TrendPoint{Period: bucketLabel(start, q.Interval), Start: start}
			buckets[start] = p
		}
		p.Runs++
		p.TotalTests += e.Summary.TotalTests
		p.PassedTests += e.Summary.PassedTests
		p.FailedTests += e.Summary.FailedTests
		p.duration += e.Summary.DurationMs
		if e.Coverage != nil {
			pct := e.Coverage.Lines.Percentage
			p.Coverage = &pct
		}
	}

	out := make([]TrendPoint, 0, len(buckets))
	for _, p := range buckets {
		p.SuccessRate = types.Percent(p.PassedTests, p.TotalTests)
		p.AvgDuration = p.duration / float64(p.Runs)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// bucketStart truncates ts (in UTC) to the start of its interval. Weeks
// start on Monday.
func bucketStart(ts time.Time, interval string) time.Time {
	ts = ts.UTC()
	y, mo, d := ts.Date()
	switch interval {
	case IntervalHour:
		return ts.Truncate(time.Hour)
	case IntervalWeek:
		day := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case IntervalMonth:
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	}
}

func bucketLabel(start time.Time, interval string) string {
	switch interval {
	case IntervalHour:
		return start.Format("2006-01-02T15:00")
	case IntervalWeek:
		y, w := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	case IntervalMonth:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}
