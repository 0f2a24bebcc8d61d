package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/testpulse/testpulse/internal/dashboard"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		uiDir    string
		httpPort int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector, REST API and WebSocket hub",
		Long: `Start the dashboard. The collector polls the configured report paths,
every new result is stored in history and pushed to WebSocket subscribers,
and the REST API serves rollups under /api. Stops on SIGINT or SIGTERM,
writing the final statistics snapshot before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if uiDir != "" {
				cfg.Server.UIDir = uiDir
			}
			if cmd.Flags().Changed("http-port") {
				cfg.Server.HTTPPort = httpPort
			}
			opts.setupLogger(cfg, os.Stdout)

			slog.Info("testpulse starting", "version", version, "config", opts.configPath)
			slog.Info("config loaded",
				"http_port", cfg.Server.HTTPPort,
				"grpc_port", cfg.Server.GRPCPort,
				"auth_mode", cfg.Server.Auth.Mode,
				"history_backend", cfg.History.Backend,
				"targets", len(cfg.Collector.Targets),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			dopts := []dashboard.Option{
				dashboard.WithVersion(version),
				dashboard.WithLevelVar(opts.level),
			}
			if _, err := os.Stat(opts.configPath); err == nil {
				dopts = append(dopts, dashboard.WithConfigPath(opts.configPath))
			}
			srv, err := dashboard.New(ctx, cfg, dopts...)
			if err != nil {
				return err
			}
			err = srv.Run(ctx)
			slog.Info("testpulse stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&uiDir, "ui-dir", "", "serve pre-built dashboard assets from this directory")
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "override server.http_port")
	return cmd
}
