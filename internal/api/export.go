package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/pkg/types"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

var historyCSVHeader = []string{
	"id", "resultId", "framework", "source", "timestamp",
	"totalTests", "passedTests", "failedTests", "skippedTests",
	"durationMs", "success", "lineCoverage",
}

var metricsCSVHeader = []string{
	"id", "framework", "source", "timestamp",
	"totalTests", "passedTests", "failedTests", "skippedTests",
	"durationMs", "success", "lineCoverage",
}

func formatParam(r *http.Request) (string, error) {
	f := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch f {
	case "":
		return formatJSON, nil
	case formatJSON, formatCSV:
		return f, nil
	default:
		return "", errs.Invalid("format", "%q: want json or csv", f)
	}
}

// exportHistory returns GET /api/export/history?format=json|csv.
func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		fail(w, err)
		return
	}
	entries := h.history.All()
	name := h.exportName("history", format)

	if format == formatJSON {
		attachment(w, name)
		ok(w, entries)
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID, e.ResultID, string(e.Framework), e.Source, e.Timestamp.UTC().Format(time.RFC3339),
			itoa(e.Summary.TotalTests), itoa(e.Summary.PassedTests), itoa(e.Summary.FailedTests), itoa(e.Summary.SkippedTests),
			ftoa(e.Summary.DurationMs), strconv.FormatBool(e.Summary.Success), lineCoverage(e.Coverage),
		})
	}
	writeCSV(w, name, historyCSVHeader, rows)
}

// exportMetrics returns GET /api/export/metrics?format=json|csv&timeRange=.
// JSON exports the aggregated report; CSV exports the per-run metrics in the
// window.
func (h *Handler) exportMetrics(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		fail(w, err)
		return
	}
	tr := r.URL.Query().Get("timeRange")
	if tr == "" {
		tr = metrics.RangeAll
	}
	name := h.exportName("metrics", format)

	if format == formatJSON {
		report, err := h.metrics.GetAggregatedData(tr, false)
		if err != nil {
			fail(w, err)
			return
		}
		attachment(w, name)
		ok(w, report)
		return
	}

	runs, err := h.metrics.Runs(tr)
	if err != nil {
		fail(w, err)
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, m := range runs {
		rows = append(rows, []string{
			m.ID, string(m.Framework), m.Source, m.Timestamp.UTC().Format(time.RFC3339),
			itoa(m.TotalTests), itoa(m.PassedTests), itoa(m.FailedTests), itoa(m.SkippedTests),
			ftoa(m.DurationMs), strconv.FormatBool(m.Success), lineCoverage(m.Coverage),
		})
	}
	writeCSV(w, name, metricsCSVHeader, rows)
}

func (h *Handler) exportName(kind, format string) string {
	return fmt.Sprintf("testpulse-%s-%s.%s", kind, h.now().UTC().Format("20060102-150405"), format)
}

func attachment(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

func writeCSV(w http.ResponseWriter, name string, header []string, rows [][]string) {
	attachment(w, name)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	cw.Write(header)  //nolint:errcheck
	cw.WriteAll(rows) //nolint:errcheck
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func lineCoverage(c *types.Coverage) string {
	if c == nil {
		return ""
	}
	return ftoa(c.Lines.Percentage)
}
