package metrics

import (
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/testpulse/testpulse/internal/storage"
	"github.com/testpulse/testpulse/pkg/types"
)

// RunMetric is the per-run data point the aggregator keeps. It is a
// NormalizedResult without suites, per-file coverage or raw payload.
type RunMetric struct {
	ID           string          `json:"id"`
	Framework    types.Framework `json:"framework"`
	Source       string          `json:"source"`
	Timestamp    time.Time       `json:"timestamp"`
	TotalTests   int             `json:"totalTests"`
	PassedTests  int             `json:"passedTests"`
	FailedTests  int             `json:"failedTests"`
	SkippedTests int             `json:"skippedTests"`
	DurationMs   float64         `json:"durationMs"`
	Success      bool            `json:"success"`
	Coverage     *types.Coverage `json:"coverage,omitempty"`
}

// NewRunMetric extracts a RunMetric from res.
func NewRunMetric(res types.NormalizedResult) RunMetric {
	m := RunMetric{
		ID:           res.ID,
		Framework:    res.Framework,
		Source:       res.Source,
		Timestamp:    res.Timestamp,
		TotalTests:   res.Summary.TotalTests,
		PassedTests:  res.Summary.PassedTests,
		FailedTests:  res.Summary.FailedTests,
		SkippedTests: res.Summary.SkippedTests,
		DurationMs:   res.Summary.DurationMs,
		Success:      res.Summary.Success,
	}
	if res.Coverage != nil {
		c := types.Coverage{}.Add(*res.Coverage) // drops per-file data
		m.Coverage = &c
	}
	return m
}

// metricsLog is the on-disk layout of the metrics log.
type metricsLog struct {
	UpdatedAt time.Time   `json:"updatedAt"`
	Runs      []RunMetric `json:"runs"`
}

// Aggregator computes AggregatedReports. All methods are safe for
// concurrent use.
type Aggregator struct {
	path string // metrics log; empty disables persistence
	now  func() time.Time

	mu    sync.Mutex
	runs  []RunMetric // ascending by Timestamp
	cache map[string]*AggregatedReport
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New returns an Aggregator whose metrics log lives at path.
func New(path string, opts ...Option) *Aggregator {
	a := &Aggregator{
		path:  path,
		now:   time.Now,
		cache: make(map[string]*AggregatedReport),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Load reads the metrics log. A missing file leaves the log empty.
func (a *Aggregator) Load() error {
	if a.path == "" {
		return nil
	}
	var doc metricsLog
	if err := storage.ReadJSON(a.path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = doc.Runs
	sortRuns(a.runs)
	a.cache = make(map[string]*AggregatedReport)
	slog.Info("metrics: loaded", "runs", len(a.runs), "path", a.path)
	return nil
}

// Save writes the metrics log.
func (a *Aggregator) Save() error {
	if a.path == "" {
		return nil
	}
	a.mu.Lock()
	doc := metricsLog{UpdatedAt: a.now().UTC(), Runs: append([]RunMetric(nil), a.runs...)}
	a.mu.Unlock()
	return storage.WriteJSON(a.path, doc)
}

// Record appends res to the metrics log and persists it. Cached reports are
// left alone; call Refresh to see the new run.
func (a *Aggregator) Record(res types.NormalizedResult) {
	a.mu.Lock()
	a.insert(NewRunMetric(res))
	a.mu.Unlock()

	if err := a.Save(); err != nil {
		slog.Error("metrics: save failed", "path", a.path, "err", err)
	}
}

// Seed back-fills the metrics log from history when the log is empty. It
// returns the number of runs added.
func (a *Aggregator) Seed(entries []types.HistoryEntry) int {
	a.mu.Lock()
	if len(a.runs) > 0 || len(entries) == 0 {
		a.mu.Unlock()
		return 0
	}
	for _, e := range entries {
		m := NewRunMetric(e.NormalizedResult)
		m.ID = e.ResultID
		a.runs = append(a.runs, m)
	}
	sortRuns(a.runs)
	a.cache = make(map[string]*AggregatedReport)
	n := len(a.runs)
	a.mu.Unlock()

	slog.Info("metrics: seeded from history", "runs", n)
	if err := a.Save(); err != nil {
		slog.Error("metrics: save failed", "path", a.path, "err", err)
	}
	return n
}

// insert keeps runs sorted by timestamp. Caller holds a.mu.
func (a *Aggregator) insert(m RunMetric) {
	pos := sort.Search(len(a.runs), func(i int) bool {
		return a.runs[i].Timestamp.After(m.Timestamp)
	})
	a.runs = append(a.runs, RunMetric{})
	copy(a.runs[pos+1:], a.runs[pos:])
	a.runs[pos] = m
}

func sortRuns(runs []RunMetric) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
}

// GetAggregatedData returns the report for timeRange, computing it if it is
// not cached or force is set.
func (a *Aggregator) GetAggregatedData(timeRange string, force bool) (AggregatedReport, error) {
	key, window, err := ParseTimeRange(timeRange)
	if err != nil {
		return AggregatedReport{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !force {
		if r, ok := a.cache[key]; ok {
			return *r, nil
		}
	}
	now := a.now().UTC()
	r := buildReport(key, now, a.window(now, window))
	a.cache[key] = &r
	return r, nil
}

// Refresh drops every cached report.
func (a *Aggregator) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]*AggregatedReport)
}

// Runs returns a copy of the runs within timeRange, oldest first.
func (a *Aggregator) Runs(timeRange string) ([]RunMetric, error) {
	_, window, err := ParseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RunMetric{}, a.window(a.now().UTC(), window)...), nil
}

// window returns the suffix of runs newer than now-d, or all runs when d is
// zero. Caller holds a.mu.
func (a *Aggregator) window(now time.Time, d time.Duration) []RunMetric {
	if d == 0 {
		return a.runs
	}
	cutoff := now.Add(-d)
	i := sort.Search(len(a.runs), func(i int) bool { return !a.runs[i].Timestamp.Before(cutoff) })
	return a.runs[i:]
}

// Prune removes runs older than cutoff, then the oldest runs beyond max
// (when max > 0), and persists the log if anything changed. It returns the
// number of runs removed.
func (a *Aggregator) Prune(cutoff time.Time, max int) int {
	a.mu.Lock()
	before := len(a.runs)
	i := sort.Search(len(a.runs), func(i int) bool { return !a.runs[i].Timestamp.Before(cutoff) })
	a.runs = append(a.runs[:0], a.runs[i:]...)
	if max > 0 && len(a.runs) > max {
		a.runs = append(a.runs[:0], a.runs[len(a.runs)-max:]...)
	}
	removed := before - len(a.runs)
	a.mu.Unlock()

	if removed > 0 {
		slog.Info("metrics: pruned", "removed", removed)
		if err := a.Save(); err != nil {
			slog.Error("metrics: save failed", "path", a.path, "err", err)
		}
	}
	return removed
}

// Len returns the number of runs in the metrics log.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.runs)
}
