package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/internal/history"
	"github.com/testpulse/testpulse/internal/metrics"
)

// Hub is the push channel mounted at /ws.
type Hub interface {
	http.Handler
	Count() int
}

// Files names the on-disk artefacts reported by /api/system/storage.
type Files struct {
	History    string
	Metrics    string
	FinalStats string
	ResultsDir string
}

// Options wires a Handler to the components it serves.
type Options struct {
	History *history.Manager
	Metrics *metrics.Aggregator
	Hub     Hub // optional

	Files          Files
	UIDir          string
	AllowedOrigins []string
	Version        string
	StartedAt      time.Time

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler serves the REST API, /health, /metrics and /ws.
type Handler struct {
	history   *history.Manager
	metrics   *metrics.Aggregator
	hub       Hub
	files     Files
	version   string
	startedAt time.Time
	now       func() time.Time

	mux     *http.ServeMux
	handler http.Handler
}

// New creates a Handler and registers all routes.
func New(opts Options) *Handler {
	h := &Handler{
		history:   opts.History,
		metrics:   opts.Metrics,
		hub:       opts.Hub,
		files:     opts.Files,
		version:   opts.Version,
		startedAt: opts.StartedAt,
		now:       opts.Now,
		mux:       http.NewServeMux(),
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.now()
	}

	h.mux.HandleFunc("/api/dashboard/overview", h.get(h.overview))
	h.mux.HandleFunc("/api/results", h.get(h.listResults))
	h.mux.HandleFunc("/api/results/", h.get(h.getResult)) // subtree, extracts {id}
	h.mux.HandleFunc("/api/stats", h.get(h.stats))
	h.mux.HandleFunc("/api/trends", h.get(h.trends))
	h.mux.HandleFunc("/api/coverage", h.get(h.coverage))
	h.mux.HandleFunc("/api/failures/patterns", h.get(h.failurePatterns))
	h.mux.HandleFunc("/api/system/status", h.get(h.systemStatus))
	h.mux.HandleFunc("/api/system/storage", h.get(h.systemStorage))
	h.mux.HandleFunc("/api/export/history", h.get(h.exportHistory))
	h.mux.HandleFunc("/api/export/metrics", h.get(h.exportMetrics))
	h.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not_found", "no such endpoint: "+r.URL.Path)
	})

	h.mux.HandleFunc("/health", h.get(h.health))
	h.mux.HandleFunc("/metrics", h.get(h.prometheus))
	if h.hub != nil {
		h.mux.Handle("/ws", h.hub)
	}
	if opts.UIDir != "" {
		h.mux.Handle("/", spaHandler(opts.UIDir))
		slog.Info("api: serving UI static files", "dir", opts.UIDir)
	}

	h.handler = corsMiddleware(opts.AllowedOrigins)(h.mux)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// get restricts fn to GET and HEAD.
func (h *Handler) get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET")
			jsonErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		fn(w, r)
	}
}

// --- route handlers ---------------------------------------------------------

// health returns GET /health, a liveness probe.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	ok(w, HealthResponse{
		Status:    "ok",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	})
}

// overview returns GET /api/dashboard/overview?timeRange=&refresh=.
func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.metrics.GetAggregatedData(q.Get("timeRange"), boolParam(q, "refresh"))
	if err != nil {
		fail(w, err)
		return
	}

	recent, err := h.history.Query(history.Query{Limit: recentRuns})
	if err != nil {
		fail(w, err)
		return
	}
	resp := OverviewResponse{
		AggregatedReport: report,
		RecentRuns:       make([]RunSummary, 0, len(recent.Results)),
		HistorySize:      recent.Total,
	}
	for _, e := range recent.Results {
		resp.RecentRuns = append(resp.RecentRuns, toRunSummary(e))
	}
	if h.hub != nil {
		resp.ConnectedClients = h.hub.Count()
	}
	ok(w, resp)
}

// listResults returns GET /api/results, one page of the history log.
func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	query, err := parseResultsQuery(r.URL.Query())
	if err != nil {
		fail(w, err)
		return
	}
	page, err := h.history.Query(query)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, page)
}

// getResult returns GET /api/results/{id}.
func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/results/")
	if id == "" {
		h.listResults(w, r)
		return
	}
	e, err := h.history.Get(id)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, e)
}

// stats returns GET /api/stats?framework=&timeRange=. The range defaults to
// the whole log.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr := q.Get("timeRange")
	if tr == "" {
		tr = metrics.RangeAll
	}
	key, window, err := metrics.ParseTimeRange(tr)
	if err != nil {
		fail(w, err)
		return
	}
	f := history.StatsFilter{Framework: q.Get("framework")}
	if window > 0 {
		f.DateFrom = h.now().Add(-window)
	}
	st := h.history.Stats(f)
	ok(w, StatsResponse{TimeRange: key, Framework: f.Framework, Stats: st})
}

// trends returns GET /api/trends?framework=&days=&interval=.
func (h *Handler) trends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := intParam(q, "days", 0)
	if err != nil {
		fail(w, err)
		return
	}
	points, err := h.history.Trends(history.TrendQuery{
		Framework: q.Get("framework"),
		Days:      days,
		Interval:  q.Get("interval"),
	})
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, points)
}

// failurePatterns returns GET /api/failures/patterns?framework=&days=&minOccurrences=.
func (h *Handler) failurePatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := intParam(q, "days", 0)
	if err != nil {
		fail(w, err)
		return
	}
	minOcc, err := intParam(q, "minOccurrences", 0)
	if err != nil {
		fail(w, err)
		return
	}
	patterns, err := h.history.FailurePatterns(history.PatternQuery{
		Framework:      q.Get("framework"),
		Days:           days,
		MinOccurrences: minOcc,
	})
	if err != nil {
		fail(w, err)
		return
	}
	if patterns == nil {
		patterns = []history.FailurePattern{}
	}
	ok(w, patterns)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func ok(w http.ResponseWriter, data interface{}) {
	jsonResp(w, http.StatusOK, envelope{Success: true, Data: data})
}

func jsonErr(w http.ResponseWriter, code int, kind, msg string) {
	jsonResp(w, code, errorResponse{Success: false, Error: kind, Message: msg})
}

// fail maps err onto a status code. Internal errors are logged and replaced
// with a generic message.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errs.IsValidation(err):
		jsonErr(w, http.StatusBadRequest, "validation_error", err.Error())
	case errs.IsNotFound(err):
		jsonErr(w, http.StatusNotFound, "not_found", err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
