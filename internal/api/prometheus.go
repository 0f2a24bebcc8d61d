package api

import (
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/testpulse/testpulse/internal/metrics"
)

// prometheus returns GET /metrics in the Prometheus text format. Report
// gauges describe the default time range and use the cached report.
func (h *Handler) prometheus(w http.ResponseWriter, r *http.Request) {
	report, err := h.metrics.GetAggregatedData(metrics.DefaultTimeRange, false)
	if err != nil {
		fail(w, err)
		return
	}
	info := h.history.Info()

	frameworks := make([]string, 0, len(report.Frameworks))
	for fw := range report.Frameworks {
		frameworks = append(frameworks, fw)
	}
	sort.Strings(frameworks)

	var rates, runs []*dto.Metric
	for _, fw := range frameworks {
		st := report.Frameworks[fw]
		rates = append(rates, sample(st.SuccessRate, "framework", fw))
		runs = append(runs, sample(float64(st.Runs), "framework", fw))
	}

	families := []*dto.MetricFamily{
		gauge("testpulse_health_score", "Weighted health score (0-100) over the last 24h.",
			sample(report.Health.Score, "level", report.Health.Level)),
		gauge("testpulse_success_rate_percent", "Passed tests as a percentage of total tests over the last 24h.",
			append([]*dto.Metric{sample(report.Overall.SuccessRate, "framework", "all")}, rates...)...),
		gauge("testpulse_runs", "Test runs recorded over the last 24h.",
			append([]*dto.Metric{sample(float64(report.TotalRuns), "framework", "all")}, runs...)...),
		gauge("testpulse_history_entries", "Entries in the history log.",
			sample(float64(info.Entries))),
		gauge("testpulse_history_warnings", "Malformed entries skipped when the history log was loaded.",
			sample(float64(info.Warnings))),
		gauge("testpulse_history_storage_errors", "Failed history log reads and writes since start.",
			sample(float64(info.StorageErrors))),
		gauge("testpulse_metrics_runs", "Runs in the metrics log.",
			sample(float64(h.metrics.Len()))),
		gauge("testpulse_uptime_seconds", "Seconds since the dashboard started.",
			sample(h.now().Sub(h.startedAt).Seconds())),
	}
	if c := report.Overall.Coverage; c != nil {
		families = append(families, gauge("testpulse_coverage_lines_percent",
			"Line coverage summed over the last 24h.", sample(c.Lines.Percentage)))
	}
	if h.hub != nil {
		families = append(families, gauge("testpulse_websocket_clients",
			"Connected WebSocket clients.", sample(float64(h.hub.Count()))))
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return
		}
	}
}

func gauge(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: ms,
	}
}

// sample builds a gauge sample; labels are name/value pairs.
func sample(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}
