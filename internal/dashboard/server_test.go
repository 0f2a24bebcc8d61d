package dashboard_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/dashboard"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/internal/storage"
	"github.com/testpulse/testpulse/pkg/types"
)

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type event struct {
	channel, typ string
	data         any
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(channel, msgType string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{channel, msgType, data})
	return 1
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.GRPCPort = 0
	cfg.Collector.Root = dir
	cfg.Collector.OutputDir = filepath.Join(dir, "results")
	cfg.Collector.Watch = false
	cfg.History.Path = filepath.Join(dir, "history.json")
	cfg.Metrics.Path = filepath.Join(dir, "metrics.json")
	cfg.Metrics.FinalStatsPath = filepath.Join(dir, "final-stats.json")
	return cfg
}

func unitResult(id string, at time.Time, passed, failed int) types.NormalizedResult {
	return types.NormalizedResult{
		ID:        id,
		Framework: types.FrameworkUnit,
		Source:    "test-results/jest-results.json",
		Timestamp: at,
		Summary: types.Summary{
			TotalTests:  passed + failed,
			PassedTests: passed,
			FailedTests: failed,
			DurationMs:  100,
			Success:     failed == 0,
		},
		Raw: json.RawMessage(`{"numTotalTests":1}`),
	}
}

func TestIngest_StoresRecordsAndPublishes(t *testing.T) {
	rec := &recorder{}
	s, err := dashboard.New(context.Background(), testConfig(t),
		dashboard.WithPublisher(rec), dashboard.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	defer s.Close()

	entry := s.Ingest(context.Background(), unitResult("r1", fixedNow.Add(-time.Minute), 9, 1))

	assert.Equal(t, "r1", entry.ResultID)
	assert.Equal(t, 1, s.History().Len())
	assert.Equal(t, 1, s.Metrics().Len())

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, dashboard.ChannelResults, events[0].channel)
	assert.Equal(t, "unit", events[1].channel)
	for _, ev := range events {
		assert.Equal(t, dashboard.EventResultUpdate, ev.typ)
		res, ok := ev.data.(types.NormalizedResult)
		require.True(t, ok)
		assert.Equal(t, "r1", res.ID)
		assert.Nil(t, res.Raw, "raw payload is not pushed")
	}
}

func TestBroadcastStats_ForcesFreshReport(t *testing.T) {
	rec := &recorder{}
	s, err := dashboard.New(context.Background(), testConfig(t),
		dashboard.WithPublisher(rec), dashboard.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	defer s.Close()

	// Prime the cache with an empty report.
	r, err := s.Metrics().GetAggregatedData("1h", false)
	require.NoError(t, err)
	require.Zero(t, r.TotalRuns)

	s.Ingest(context.Background(), unitResult("r1", fixedNow.Add(-10*time.Minute), 10, 0))
	require.NoError(t, s.BroadcastStats())

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, dashboard.ChannelStats, last.channel)
	assert.Equal(t, dashboard.EventStatsUpdate, last.typ)
	report, ok := last.data.(metrics.AggregatedReport)
	require.True(t, ok)
	assert.Equal(t, "1h", report.TimeRange)
	assert.Equal(t, 1, report.TotalRuns)
}

func TestBroadcastStats_RefreshesDefaultRange(t *testing.T) {
	s, err := dashboard.New(context.Background(), testConfig(t),
		dashboard.WithPublisher(&recorder{}), dashboard.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	defer s.Close()

	r, err := s.Metrics().GetAggregatedData(metrics.DefaultTimeRange, false)
	require.NoError(t, err)
	require.Zero(t, r.TotalRuns)

	s.Ingest(context.Background(), unitResult("r1", fixedNow.Add(-3*time.Hour), 10, 0))
	require.NoError(t, s.BroadcastStats())

	r, err = s.Metrics().GetAggregatedData(metrics.DefaultTimeRange, false)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalRuns, "cached default-range report is recomputed on the stats tick")
}

func TestCleanup_PrunesHistoryAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.RetentionDays = 1
	now := fixedNow
	s, err := dashboard.New(context.Background(), cfg,
		dashboard.WithPublisher(&recorder{}), dashboard.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer s.Close()

	s.Ingest(context.Background(), unitResult("old", fixedNow.Add(-12*time.Hour), 5, 0))
	s.Ingest(context.Background(), unitResult("new", fixedNow.Add(-time.Hour), 5, 0))

	now = fixedNow.Add(13 * time.Hour) // "old" is now 25h old
	h, m := s.Cleanup(context.Background())
	assert.Equal(t, 1, h)
	assert.Equal(t, 1, m)
	assert.Equal(t, 1, s.History().Len())
	assert.Equal(t, 1, s.Metrics().Len())

	h, m = s.Cleanup(context.Background())
	assert.Zero(t, h)
	assert.Zero(t, m)
}

func TestNew_SeedsMetricsFromHistory(t *testing.T) {
	cfg := testConfig(t)
	entries := []types.HistoryEntry{
		{NormalizedResult: unitResult("a", fixedNow.Add(-2*time.Hour), 3, 0), ID: "h-a", ResultID: "a"},
		{NormalizedResult: unitResult("b", fixedNow.Add(-time.Hour), 2, 1), ID: "h-b", ResultID: "b"},
	}
	require.NoError(t, storage.NewJSONFile(cfg.History.Path).Save(context.Background(), entries))

	s, err := dashboard.New(context.Background(), cfg,
		dashboard.WithPublisher(&recorder{}), dashboard.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 2, s.History().Len())
	assert.Equal(t, 2, s.Metrics().Len())
	_, err = os.Stat(cfg.Metrics.Path)
	assert.NoError(t, err, "seeded metrics log is persisted")
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = "postgres"
	_, err := dashboard.New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestApplyConfig_ChangesLogLevel(t *testing.T) {
	lv := new(slog.LevelVar)
	s, err := dashboard.New(context.Background(), testConfig(t),
		dashboard.WithPublisher(&recorder{}), dashboard.WithLevelVar(lv))
	require.NoError(t, err)
	defer s.Close()

	next := config.Default()
	next.Log.Level = "debug"
	s.ApplyConfig(next)
	assert.Equal(t, slog.LevelDebug, lv.Level())
}

func TestHandler_APIKey(t *testing.T) {
	t.Setenv("TESTPULSE_TEST_KEY", "k1")
	cfg := testConfig(t)
	cfg.Server.Auth = config.AuthConfig{Mode: "apikey", KeyEnv: "TESTPULSE_TEST_KEY"}
	s, err := dashboard.New(context.Background(), cfg, dashboard.WithPublisher(&recorder{}))
	require.NoError(t, err)
	defer s.Close()

	srv := &http.Server{Handler: s.Handler()}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis) //nolint:errcheck
	defer srv.Close()
	base := "http://" + lis.Addr().String()

	resp, err := http.Get(base + "/api/results")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, base+"/api/results", nil)
	req.Header.Set("X-API-Key", "k1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

const jestReport = `{"numTotalTests": 2, "numPassedTests": 2, "numFailedTests": 0, "numPendingTests": 0,
  "success": true, "testResults": []}`

func TestServe_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collector.PollInterval = 20 * time.Millisecond
	cfg.Server.StatsInterval = time.Hour

	s, err := dashboard.New(context.Background(), cfg)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis, nil) }()

	base := "http://" + lis.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	}
	assert.Equal(t, "welcome", read()["type"])
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channels":["results"]}`)))
	assert.Equal(t, "subscribed", read()["type"])

	target := filepath.Join(cfg.Collector.Root, "test-results", "jest-results.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte(jestReport), 0o644))

	msg := read()
	assert.Equal(t, "result-update", msg["type"])
	assert.Equal(t, "results", msg["channel"])

	resp, err := http.Get(base + "/api/results")
	require.NoError(t, err)
	var page struct {
		Success bool `json:"success"`
		Data    struct {
			Total int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	resp.Body.Close()
	assert.True(t, page.Success)
	assert.Equal(t, 1, page.Data.Total)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	var final dashboard.FinalStats
	require.NoError(t, storage.ReadJSON(cfg.Metrics.FinalStatsPath, &final))
	assert.Equal(t, 1, final.Report.TotalRuns)
	assert.Equal(t, 1, final.History.Entries)

	snaps, err := os.ReadDir(cfg.Collector.OutputDir)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}
