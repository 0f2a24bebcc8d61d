package api

import (
	"net/http"
	"strings"

	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/pkg/types"
)

// coverageLatest selects the most recent coverage report per framework.
const coverageLatest = "latest"

// coverage returns GET /api/coverage?framework=&timeRange=latest|<window>.
//
// "latest" (the default) reports the newest run with coverage per framework,
// per-file detail included. Any other range sums the runs in the window at
// the (total, covered) level.
func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	framework := q.Get("framework")
	tr := strings.ToLower(strings.TrimSpace(q.Get("timeRange")))
	if tr == "" {
		tr = coverageLatest
	}

	resp := CoverageResponse{TimeRange: tr, Frameworks: make(map[string]FrameworkCoverage)}

	if tr == coverageLatest {
		entries := h.history.All()
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			fw := string(e.Framework)
			if e.Coverage == nil || (framework != "" && fw != framework) {
				continue
			}
			if _, seen := resp.Frameworks[fw]; seen {
				continue
			}
			resp.Frameworks[fw] = FrameworkCoverage{
				Coverage: *e.Coverage,
				Runs:     1,
				LastRun:  e.Timestamp,
				Source:   e.Source,
			}
		}
	} else {
		runs, err := h.metrics.Runs(tr)
		if err != nil {
			fail(w, err)
			return
		}
		resp.TimeRange, _, _ = metrics.ParseTimeRange(tr)
		for _, run := range runs {
			fw := string(run.Framework)
			if run.Coverage == nil || (framework != "" && fw != framework) {
				continue
			}
			fc := resp.Frameworks[fw]
			fc.Coverage = fc.Coverage.Add(*run.Coverage)
			fc.Runs++
			if run.Timestamp.After(fc.LastRun) {
				fc.LastRun = run.Timestamp
			}
			resp.Frameworks[fw] = fc
		}
	}

	if len(resp.Frameworks) > 0 {
		var overall types.Coverage
		for _, fc := range resp.Frameworks {
			overall = overall.Add(fc.Coverage)
		}
		resp.Overall = &overall
	}
	ok(w, resp)
}
