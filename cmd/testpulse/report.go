package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/history"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/internal/storage"
)

func newReportCmd(opts *options) *cobra.Command {
	var (
		timeRange string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the aggregated report for a time range",
		Long: `Compute the aggregated report (per-framework rollups, trends, health score
and recommendations) from the metrics log. When the metrics log is empty it is
rebuilt in memory from history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			opts.setupLogger(cfg, os.Stderr)

			agg, err := loadAggregator(cmd, cfg)
			if err != nil {
				return err
			}
			report, err := agg.GetAggregatedData(timeRange, true)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderReport(report, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&timeRange, "time-range", "t", metrics.DefaultTimeRange, "window: 1h, 24h, 7d, 30d, all or any duration")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func loadAggregator(cmd *cobra.Command, cfg *config.Config) (*metrics.Aggregator, error) {
	agg := metrics.New(cfg.Metrics.Path)
	if err := agg.Load(); err != nil {
		return nil, err
	}
	if agg.Len() > 0 {
		return agg, nil
	}

	store, err := storage.Open(cfg.History.Backend, cfg.History.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	hist := history.New(store, cfg.History)
	if err := hist.Load(cmd.Context()); err != nil {
		return nil, err
	}
	mem := metrics.New("") // not persisted
	mem.Seed(hist.All())
	return mem, nil
}
