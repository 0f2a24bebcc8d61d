package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/testpulse/testpulse/internal/collector"
	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/history"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/internal/storage"
	"github.com/testpulse/testpulse/pkg/types"
)

func newCollectCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "collect [report files...]",
		Short: "Ingest reports once and print a summary",
		Long: `Parse the given report files, or every configured target when none are
given, store the results in history and the metrics log, and print a summary.
With --dry-run nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			opts.setupLogger(cfg, os.Stderr)
			if dryRun {
				cfg.Collector.OutputDir = ""
			}

			var failures []error
			c := collector.New(cfg.Collector, collector.WithOnError(func(err error) {
				failures = append(failures, err)
			}))

			var results []types.NormalizedResult
			if len(args) > 0 {
				for _, path := range args {
					if res, err := c.ProcessFile(path); err == nil {
						results = append(results, *res)
					}
				}
			} else {
				results = c.CollectOnce(cmd.Context())
			}

			if !dryRun && len(results) > 0 {
				if err := persist(cmd.Context(), cfg, results); err != nil {
					return err
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), renderCollectSummary(results, failures))
			if len(results) == 0 && len(failures) > 0 {
				return fmt.Errorf("no reports collected (%d failed)", len(failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print without storing")
	return cmd
}

// persist adds results to the history log and the metrics log.
func persist(ctx context.Context, cfg *config.Config, results []types.NormalizedResult) error {
	store, err := storage.Open(cfg.History.Backend, cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	hist := history.New(store, cfg.History)
	if err := hist.Load(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	agg := metrics.New(cfg.Metrics.Path)
	if err := agg.Load(); err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}
	agg.Seed(hist.All())

	for _, res := range results {
		hist.AddEntry(ctx, res)
		agg.Record(res)
	}
	return nil
}
