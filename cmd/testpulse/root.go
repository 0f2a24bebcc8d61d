package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/testpulse/testpulse/internal/config"
)

const (
	defaultConfigPath = "testpulse.yaml"

	flagConfig   = "config"
	flagLogLevel = "log-level"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	opts := &options{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "testpulse",
		Short: "Test telemetry collector and dashboard",
		Long: `testpulse watches test-framework reports (Jest, Playwright, JUnit XML,
LCOV and pre-aggregated JSON), keeps an indexed history of every run and
serves rollups, trends, health scores and failure patterns over REST and
WebSocket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, flagConfig, "c", defaultConfigPath, "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, flagLogLevel, "", "override log level (debug|info|warn|error)")

	root.AddCommand(newServeCmd(opts), newCollectCmd(opts), newReportCmd(opts))
	return root
}

// load reads the config file. A missing file is only an error when --config
// was given explicitly; otherwise defaults apply.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed(flagConfig) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// setupLogger installs the default slog logger writing to w.
func (o *options) setupLogger(cfg *config.Config, w io.Writer) {
	o.level.Set(cfg.Log.SlogLevel())
	hopts := &slog.HandlerOptions{Level: o.level}
	var h slog.Handler
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
}
