package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", cfg.Server.GRPCPort, DefaultGRPCPort)
	}
	if cfg.Server.StatsInterval != DefaultStatsInterval {
		t.Errorf("stats_interval: got %v, want %v", cfg.Server.StatsInterval, DefaultStatsInterval)
	}
	if cfg.Collector.PollInterval != time.Second {
		t.Errorf("poll_interval: got %v, want 1s", cfg.Collector.PollInterval)
	}
	if cfg.History.Backend != "json" {
		t.Errorf("history.backend: got %q, want json", cfg.History.Backend)
	}
	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("retention_days: got %d, want %d", cfg.History.RetentionDays, DefaultRetentionDays)
	}
	if len(cfg.Collector.Targets) != len(DefaultTargets()) {
		t.Errorf("targets: got %d, want %d", len(cfg.Collector.Targets), len(DefaultTargets()))
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  grpc_port: 0
  stats_interval: 10s
  cleanup_interval: 30m
  auth:
    mode: apikey
    key_env: TP_KEY
    header: X-Dashboard-Key
collector:
  root: /srv/app
  poll_interval: 2s
  targets:
    - path: out/jest.json
    - path: out/report.html
      fallback_for: out/jest.json
history:
  backend: sqlite
  path: /var/lib/testpulse/history.db
  retention_days: 7
  max_entries: 200
log:
  level: debug
  format: text
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort != 0 {
		t.Errorf("grpc_port: got %d, want 0", cfg.Server.GRPCPort)
	}
	if cfg.Server.CleanupInterval != 30*time.Minute {
		t.Errorf("cleanup_interval: got %v, want 30m", cfg.Server.CleanupInterval)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-dashboard-key" {
		t.Errorf("header: got %q, want x-dashboard-key", h)
	}
	if len(cfg.Collector.Targets) != 2 || cfg.Collector.Targets[1].FallbackFor != "out/jest.json" {
		t.Errorf("targets: got %+v", cfg.Collector.Targets)
	}
	if cfg.History.Retention() != 7*24*time.Hour {
		t.Errorf("retention: got %v, want 168h", cfg.History.Retention())
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", cfg.Log.SlogLevel())
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_TP_KEY", "supersecret")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_TP_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown auth mode":  "server:\n  auth:\n    mode: oauth2\n",
		"unknown backend":    "history:\n  backend: mongo\n",
		"zero retention":     "history:\n  retention_days: 0\n",
		"bad http port":      "server:\n  http_port: 70000\n",
		"same ports":         "server:\n  http_port: 9000\n  grpc_port: 9000\n",
		"empty target path":  "collector:\n  targets:\n    - fallback_for: a.json\n",
		"unknown log level":  "log:\n  level: verbose\n",
		"negative poll":      "collector:\n  poll_interval: -1s\n",
		"malformed yaml":     "server: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { changed <- c }) //nolint:errcheck

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// A single WriteFile may surface as several events; the truncate can be
	// observed before the new content lands.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Log.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("Watch did not report the change")
		}
	}
}
