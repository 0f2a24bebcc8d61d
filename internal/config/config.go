package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultGRPCPort        = 50051
	DefaultStatsInterval   = 30 * time.Second
	DefaultCleanupInterval = time.Hour
	DefaultPollInterval    = time.Second
	DefaultMaxFileSize     = 50 << 20
	DefaultRetentionDays   = 30
	DefaultMaxEntries      = 1000
	DefaultOutputDir       = "dashboard-data/results"
	DefaultHistoryPath     = "dashboard-data/history.json"
	DefaultMetricsPath     = "dashboard-data/metrics.json"
	DefaultFinalStatsPath  = "dashboard-data/final-stats.json"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Collector CollectorConfig `yaml:"collector"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the listener and housekeeping settings.
type ServerConfig struct {
	// HTTPPort serves the REST API, the WebSocket hub and /metrics.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service. Zero disables it.
	GRPCPort int `yaml:"grpc_port"`

	// UIDir, when set, serves pre-built dashboard assets from this directory.
	UIDir string `yaml:"ui_dir"`

	// AllowedOrigins is the CORS allow list. "*" allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Auth AuthConfig `yaml:"auth"`

	// StatsInterval is how often the last hour's report is recomputed and
	// pushed to the "stats" channel.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AuthConfig controls client authentication for REST and gRPC callers.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header / gRPC metadata key. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// CollectorConfig controls which files are ingested and how often.
type CollectorConfig struct {
	// Root is the directory the target paths are relative to.
	Root string `yaml:"root"`

	// OutputDir receives a JSON snapshot of every normalised result.
	OutputDir string `yaml:"output_dir"`

	// PollInterval is the modification-time check period.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxFileSize bounds how many bytes of a single input file are read.
	MaxFileSize int64 `yaml:"max_file_size"`

	// Watch enables filesystem notifications in addition to polling.
	Watch bool `yaml:"watch"`

	// Targets lists the well-known report locations.
	Targets []Target `yaml:"targets"`
}

// Target is one watched report path.
type Target struct {
	Path string `yaml:"path"`

	// FallbackFor names a structured report; while that file exists this
	// target is skipped. Used for lossy HTML reports.
	FallbackFor string `yaml:"fallback_for"`
}

// HistoryConfig controls the persisted run log.
type HistoryConfig struct {
	// Backend is one of: json | sqlite.
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
}

// Retention returns RetentionDays as a duration.
func (h HistoryConfig) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

// MetricsConfig controls the aggregator's persisted files.
type MetricsConfig struct {
	Path           string `yaml:"path"`
	FinalStatsPath string `yaml:"final_stats_path"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info;
// validate rejects them before this is reached.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultTargets are the report locations checked when none are configured.
func DefaultTargets() []Target {
	return []Target{
		{Path: "test-results/jest-results.json"},
		{Path: "test-results/playwright-results.json"},
		{Path: "playwright-report/index.html", FallbackFor: "test-results/playwright-results.json"},
		{Path: "test-results/junit.xml"},
		{Path: "coverage/lcov.info"},
		{Path: "test-results/aggregated-results.json"},
	}
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if len(cfg.Collector.Targets) == 0 {
		cfg.Collector.Targets = DefaultTargets()
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values. It is also what
// the CLI runs with when no config file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        DefaultHTTPPort,
			GRPCPort:        DefaultGRPCPort,
			AllowedOrigins:  []string{"*"},
			StatsInterval:   DefaultStatsInterval,
			CleanupInterval: DefaultCleanupInterval,
		},
		Collector: CollectorConfig{
			Root:         ".",
			OutputDir:    DefaultOutputDir,
			PollInterval: DefaultPollInterval,
			MaxFileSize:  DefaultMaxFileSize,
			Watch:        true,
			Targets:      DefaultTargets(),
		},
		History: HistoryConfig{
			Backend:       "json",
			Path:          DefaultHistoryPath,
			RetentionDays: DefaultRetentionDays,
			MaxEntries:    DefaultMaxEntries,
		},
		Metrics: MetricsConfig{
			Path:           DefaultMetricsPath,
			FinalStatsPath: DefaultFinalStatsPath,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.StatsInterval <= 0 {
		return fmt.Errorf("server.stats_interval must be positive")
	}
	if cfg.Server.CleanupInterval <= 0 {
		return fmt.Errorf("server.cleanup_interval must be positive")
	}
	if cfg.Collector.PollInterval <= 0 {
		return fmt.Errorf("collector.poll_interval must be positive")
	}
	if cfg.Collector.MaxFileSize <= 0 {
		return fmt.Errorf("collector.max_file_size must be positive")
	}
	for i, t := range cfg.Collector.Targets {
		if t.Path == "" {
			return fmt.Errorf("collector.targets[%d].path is required", i)
		}
	}
	switch cfg.History.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("history.backend %q unknown: want json|sqlite", cfg.History.Backend)
	}
	if cfg.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if cfg.History.RetentionDays <= 0 {
		return fmt.Errorf("history.retention_days must be positive")
	}
	if cfg.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries must be positive")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}
