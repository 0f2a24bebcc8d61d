package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/testpulse/testpulse/internal/api"
	"github.com/testpulse/testpulse/internal/auth"
	"github.com/testpulse/testpulse/internal/collector"
	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/grpcsvc"
	"github.com/testpulse/testpulse/internal/history"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/internal/storage"
	"github.com/testpulse/testpulse/internal/ws"
	"github.com/testpulse/testpulse/pkg/types"
)

// Push channels and event types.
const (
	ChannelResults = "results"
	ChannelStats   = "stats"

	EventResultUpdate = "result-update"
	EventStatsUpdate  = "stats-update"
)

// statsRange is the window of the periodic stats broadcast.
const statsRange = "1h"

// shutdownTimeout bounds how long in-flight HTTP requests may take to finish.
const shutdownTimeout = 10 * time.Second

// Publisher delivers push events. It must not block.
type Publisher interface {
	Publish(channel, msgType string, data any) int
}

// Server owns the running components. It holds no data of its own.
type Server struct {
	cfg        *config.Config
	version    string
	configPath string
	level      *slog.LevelVar
	now        func() time.Time

	store     storage.Store
	history   *history.Manager
	metrics   *metrics.Aggregator
	collector *collector.Collector
	hub       *ws.Hub
	pub       Publisher
	grpc      *grpcsvc.Server
	api       *api.Handler
	handler   http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by /api/system/status.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(s *Server) { s.level = lv }
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// WithPublisher replaces the WebSocket hub as the push target.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.pub = p }
}

// WithClock overrides time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New opens the history store and initialises every component. Unreadable
// history or metrics logs are logged and start empty.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, now: time.Now, version: "dev"}
	for _, o := range opts {
		o(s)
	}

	store, err := storage.Open(cfg.History.Backend, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("dashboard: open history store: %w", err)
	}
	s.store = store

	s.history = history.New(store, cfg.History, history.WithClock(s.now))
	if err := s.history.Load(ctx); err != nil {
		slog.Error("dashboard: history load failed, starting empty", "path", store.Path(), "err", err)
	}

	s.metrics = metrics.New(cfg.Metrics.Path, metrics.WithClock(s.now))
	if err := s.metrics.Load(); err != nil {
		slog.Error("dashboard: metrics load failed, starting empty", "path", cfg.Metrics.Path, "err", err)
	}
	s.metrics.Seed(s.history.All())

	s.hub = ws.New(ChannelResults, ChannelStats,
		string(types.FrameworkUnit), string(types.FrameworkBrowser),
		string(types.FrameworkCoverage), string(types.FrameworkExternal))
	if s.pub == nil {
		s.pub = s.hub
	}

	s.collector = collector.New(cfg.Collector,
		collector.WithClock(s.now),
		collector.WithOnResult(func(res types.NormalizedResult) { s.Ingest(context.Background(), res) }),
		collector.WithOnError(func(err error) { slog.Debug("dashboard: collector error", "err", err) }),
	)

	a := cfg.Server.Auth
	if cfg.Server.GRPCPort != 0 {
		s.grpc = grpcsvc.New(
			auth.APIKeyInterceptor(a.Mode, a.EffectiveHeader(), a.Key()),
			auth.StreamAPIKeyInterceptor(a.Mode, a.EffectiveHeader(), a.Key()),
		)
	}

	s.api = api.New(api.Options{
		History: s.history,
		Metrics: s.metrics,
		Hub:     s.hub,
		Files: api.Files{
			History:    store.Path(),
			Metrics:    cfg.Metrics.Path,
			FinalStats: cfg.Metrics.FinalStatsPath,
			ResultsDir: cfg.Collector.OutputDir,
		},
		UIDir:          cfg.Server.UIDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        s.version,
		StartedAt:      s.now(),
		Now:            s.now,
	})
	s.handler = auth.Middleware(a.Mode, a.EffectiveHeader(), a.Key(), "/health")(s.api)

	slog.Info("dashboard: initialised",
		"history_entries", s.history.Len(),
		"metrics_runs", s.metrics.Len(),
		"backend", cfg.History.Backend,
		"auth_mode", a.Mode,
	)
	return s, nil
}

// Handler returns the authenticated HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// History returns the history manager.
func (s *Server) History() *history.Manager { return s.history }

// Metrics returns the aggregator.
func (s *Server) Metrics() *metrics.Aggregator { return s.metrics }

// Collector returns the collector.
func (s *Server) Collector() *collector.Collector { return s.collector }

// Ingest stores res and pushes it to subscribers.
func (s *Server) Ingest(ctx context.Context, res types.NormalizedResult) types.HistoryEntry {
	entry := s.history.AddEntry(ctx, res)
	s.metrics.Record(res)

	// Subscribers get the result without the raw payload.
	push := res
	push.Raw = nil
	n := s.pub.Publish(ChannelResults, EventResultUpdate, push)
	n += s.pub.Publish(string(res.Framework), EventResultUpdate, push)
	slog.Debug("dashboard: result published", "id", res.ID, "framework", res.Framework, "deliveries", n)
	return entry
}

// BroadcastStats recomputes the last hour's report and pushes it to the
// stats channel. The default-range report behind the overview and /metrics
// is refreshed on the same tick.
func (s *Server) BroadcastStats() error {
	report, err := s.metrics.GetAggregatedData(statsRange, true)
	if err != nil {
		return err
	}
	s.pub.Publish(ChannelStats, EventStatsUpdate, report)

	if _, err := s.metrics.GetAggregatedData(metrics.DefaultTimeRange, true); err != nil {
		return err
	}
	return nil
}

// Cleanup applies retention to history and the metrics log, then drops
// cached reports.
func (s *Server) Cleanup(ctx context.Context) (historyRemoved, metricsRemoved int) {
	historyRemoved = s.history.CleanupOldEntries(ctx)
	cutoff := s.now().Add(-s.cfg.History.Retention())
	metricsRemoved = s.metrics.Prune(cutoff, s.cfg.History.MaxEntries)
	s.metrics.Refresh()
	if historyRemoved > 0 || metricsRemoved > 0 {
		slog.Info("dashboard: retention applied", "history_removed", historyRemoved, "metrics_removed", metricsRemoved)
	}
	return historyRemoved, metricsRemoved
}

// ApplyConfig applies the settings that can change without a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	if s.level != nil {
		old := s.level.Level()
		s.level.Set(cfg.Log.SlogLevel())
		if old != s.level.Level() {
			slog.Info("dashboard: log level changed", "from", old.String(), "to", s.level.Level().String())
		}
	}
}

// Run binds the configured ports and calls Serve.
func (s *Server) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.HTTPPort))
	if err != nil {
		return fmt.Errorf("dashboard: listen http: %w", err)
	}
	var grpcLis net.Listener
	if s.grpc != nil {
		grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.GRPCPort))
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("dashboard: listen grpc: %w", err)
		}
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve runs every background loop and serves HTTP (and gRPC when grpcLis is
// non-nil) until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			slog.Debug("dashboard: loop exited", "loop", name)
		}()
	}

	start("collector", func() {
		if err := s.collector.Run(ctx); err != nil {
			slog.Error("dashboard: collector stopped", "err", err)
		}
	})
	start("scheduler", func() { s.runScheduler(ctx) })
	start("hub", func() { s.hub.Run(ctx) })
	if s.configPath != "" {
		start("config-watch", func() {
			if err := config.Watch(ctx, s.configPath, s.ApplyConfig); err != nil {
				slog.Warn("dashboard: config watch disabled", "path", s.configPath, "err", err)
			}
		})
	}

	if s.grpc != nil && grpcLis != nil {
		go func() {
			if err := s.grpc.Serve(grpcLis); err != nil {
				slog.Error("dashboard: gRPC server stopped", "err", err)
			}
		}()
		s.grpc.SetReady(true)
	}

	httpSrv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("dashboard: HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-httpErr:
		slog.Error("dashboard: HTTP server stopped", "err", serveErr)
	}

	slog.Info("dashboard: shutting down")
	if s.grpc != nil && grpcLis != nil {
		s.grpc.Stop()
	}
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	wg.Wait()
	s.Close()
	return serveErr
}

// Close flushes the final statistics and metrics log and closes the history
// store.
func (s *Server) Close() {
	s.hub.Close()
	if err := s.WriteFinalStats(); err != nil {
		slog.Error("dashboard: final stats not written", "path", s.cfg.Metrics.FinalStatsPath, "err", err)
	}
	if err := s.metrics.Save(); err != nil {
		slog.Error("dashboard: metrics log not written", "path", s.cfg.Metrics.Path, "err", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("dashboard: history store close failed", "err", err)
	}
}

func (s *Server) runScheduler(ctx context.Context) {
	stats := time.NewTicker(s.cfg.Server.StatsInterval)
	defer stats.Stop()
	cleanup := time.NewTicker(s.cfg.Server.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			if err := s.BroadcastStats(); err != nil {
				slog.Error("dashboard: stats broadcast failed", "err", err)
			}
		case <-cleanup.C:
			s.Cleanup(ctx)
		}
	}
}
