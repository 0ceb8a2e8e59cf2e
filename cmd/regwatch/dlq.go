package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/dlq"
)

func newDLQCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage dead-lettered messages",
	}
	cmd.AddCommand(
		newDLQListCommand(root),
		newDLQReplayCommand(root),
		newDLQPurgeCommand(root),
	)
	return cmd
}

// withRecoverer opens storage and the broker and hands a Recoverer to fn.
func withRecoverer(ctx context.Context, root *rootOptions, fn func(*dlq.Recoverer) error) error {
	logger := root.logger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	breakers := circuitbreaker.NewRegistry(cfg.BreakerConfigs(), circuitbreaker.WithLogger(logger))

	store, err := openStorage(ctx, cfg.Database, breakers, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.close() }()

	msgBroker, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := msgBroker.Close(); err != nil {
			logger.Warn("failed to close broker", slog.Any("error", err))
		}
	}()

	return fn(dlq.NewRecoverer(store.dlq, msgBroker, breakers,
		dlq.WithPolicy(cfg.RecoveryPolicy()),
		dlq.WithRecovererLogger(logger)))
}

func newDLQListCommand(root *rootOptions) *cobra.Command {
	var (
		topic string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRecoverer(cmd.Context(), root, func(r *dlq.Recoverer) error {
				counts, err := r.Counts(cmd.Context())
				if err != nil {
					return err
				}
				msgs, err := r.List(cmd.Context(), topic, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printDLQCounts(out, counts)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTOPIC\tKIND\tFAILURES\tFIRST FAILURE\tERROR")
				for _, m := range msgs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						m.ID, m.Topic, m.FailureKind, m.FailureCount,
						m.FirstFailureAt.UTC().Format(time.RFC3339), m.ErrorMessage)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "only messages of this original topic")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages")
	return cmd
}

func printDLQCounts(w io.Writer, counts map[string]int) {
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		fmt.Fprintf(w, "%s: %d\n", t, counts[t])
	}
	if len(topics) > 0 {
		fmt.Fprintln(w)
	}
}

func newDLQReplayCommand(root *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "replay [id]",
		Short: "Replay one message by id, or run a recovery pass with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a message id or --all")
			}
			return withRecoverer(cmd.Context(), root, func(r *dlq.Recoverer) error {
				out := cmd.OutOrStdout()
				if all {
					stats := r.RecoverOnce(cmd.Context())
					fmt.Fprintf(out, "scanned=%d recovered=%d failed=%d ineligible=%d skipped=%d\n",
						stats.Scanned, len(stats.Recovered), stats.Failed, stats.Ineligible, stats.Skipped)
					return nil
				}
				if err := r.Replay(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "replayed %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "replay every eligible message")
	return cmd
}

func newDLQPurgeCommand(root *rootOptions) *cobra.Command {
	var (
		id        string
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead-lettered messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (id == "") == (olderThan == 0) {
				return errors.New("pass exactly one of --id or --older-than")
			}
			return withRecoverer(cmd.Context(), root, func(r *dlq.Recoverer) error {
				out := cmd.OutOrStdout()
				if id != "" {
					if err := r.Purge(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(out, "purged %s\n", id)
					return nil
				}
				n, err := r.PurgeOlderThan(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "purged %d messages\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "message id")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete messages first failed before this age, e.g. 168h")
	return cmd
}
