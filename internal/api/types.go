package api

import (
	"time"

	"github.com/testpulse/testpulse/internal/history"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/pkg/types"
)

// recentRuns is how many runs the overview lists.
const recentRuns = 10

// envelope wraps every successful /api response.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// errorResponse is the failure envelope.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"` // seconds
}

// OverviewResponse is the payload for GET /api/dashboard/overview.
type OverviewResponse struct {
	metrics.AggregatedReport
	RecentRuns       []RunSummary `json:"recentRuns"`
	HistorySize      int          `json:"historySize"`
	ConnectedClients int          `json:"connectedClients"`
}

// RunSummary is a history entry without suites or raw payload.
type RunSummary struct {
	ID        string          `json:"id"`
	ResultID  string          `json:"resultId"`
	Framework types.Framework `json:"framework"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Summary   types.Summary   `json:"summary"`
	Coverage  *float64        `json:"coverage,omitempty"` // line percentage
}

func toRunSummary(e types.HistoryEntry) RunSummary {
	s := RunSummary{
		ID:        e.ID,
		ResultID:  e.ResultID,
		Framework: e.Framework,
		Source:    e.Source,
		Timestamp: e.Timestamp,
		Summary:   e.Summary,
	}
	if e.Coverage != nil {
		pct := e.Coverage.Lines.Percentage
		s.Coverage = &pct
	}
	return s
}

// StatsResponse is the payload for GET /api/stats.
type StatsResponse struct {
	TimeRange string `json:"timeRange"`
	Framework string `json:"framework,omitempty"`
	history.Stats
}

// CoverageResponse is the payload for GET /api/coverage.
type CoverageResponse struct {
	TimeRange  string                       `json:"timeRange"`
	Frameworks map[string]FrameworkCoverage `json:"frameworks"`
	Overall    *types.Coverage              `json:"overall"`
}

// FrameworkCoverage is one framework's coverage. Runs is the number of runs
// summed; for "latest" it is always 1.
type FrameworkCoverage struct {
	Coverage types.Coverage `json:"coverage"`
	Runs     int            `json:"runs"`
	LastRun  time.Time      `json:"lastRun"`
	Source   string         `json:"source,omitempty"`
}

// SystemStatus is the payload for GET /api/system/status.
type SystemStatus struct {
	Status           string       `json:"status"`
	Version          string       `json:"version"`
	StartedAt        time.Time    `json:"startedAt"`
	Uptime           float64      `json:"uptime"`
	UptimeHuman      string       `json:"uptimeHuman"`
	Goroutines       int          `json:"goroutines"`
	HeapAlloc        uint64       `json:"heapAlloc"`
	HeapAllocHuman   string       `json:"heapAllocHuman"`
	History          history.Info `json:"history"`
	MetricsRuns      int          `json:"metricsRuns"`
	ConnectedClients int          `json:"connectedClients"`
}

// StorageFile describes one persisted file or directory.
type StorageFile struct {
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Exists    bool       `json:"exists"`
	Files     int        `json:"files,omitempty"` // directories only
	Size      int64      `json:"size"`
	SizeHuman string     `json:"sizeHuman"`
	Modified  *time.Time `json:"modified,omitempty"`
	Age       string     `json:"age,omitempty"`
}

// StorageResponse is the payload for GET /api/system/storage.
type StorageResponse struct {
	Files      []StorageFile `json:"files"`
	TotalSize  int64         `json:"totalSize"`
	TotalHuman string        `json:"totalHuman"`
}
