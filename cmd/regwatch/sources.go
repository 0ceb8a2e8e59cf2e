package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/usecase/ingest"
)

func newSourcesCommand(root *rootOptions) *cobra.Command {
	var sync bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List feed sources and their health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := root.logger()

			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			breakers := circuitbreaker.NewRegistry(cfg.BreakerConfigs())
			store, err := openStorage(ctx, cfg.Database, breakers, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.close() }()

			if sync {
				configured, err := cfg.FeedSources()
				if err != nil {
					return err
				}
				if _, err := ingest.SyncSources(ctx, store.sources, configured, logger); err != nil {
					return err
				}
			}

			sources, err := store.sources.List(ctx)
			if err != nil {
				return err
			}
			return printSources(cmd.OutOrStdout(), sources)
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "write the configured sources to storage first")
	return cmd
}

func printSources(w io.Writer, sources []*entity.FeedSource) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJURISDICTION\tFORMAT\tINTERVAL\tACTIVE\tSTATUS\tFAILURES\tLAST SUCCESS")
	for _, src := range sources {
		lastSuccess := "-"
		if src.Health.LastSuccessAt != nil {
			lastSuccess = src.Health.LastSuccessAt.UTC().Format(time.RFC3339)
		}
		status := src.Health.Status
		if status == "" {
			status = entity.HealthUnknown
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%d\t%s\n",
			src.ID, src.Jurisdiction, src.Format, src.PollInterval, src.Active,
			status, src.Health.ConsecutiveFailures, lastSuccess)
	}
	return tw.Flush()
}
