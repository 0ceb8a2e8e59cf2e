// Command regwatch polls regulatory publication feeds, publishes change events
// and keeps the dead-letter queue under control.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"regwatch/internal/observability/logging"
)

type rootOptions struct {
	logFormat string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "regwatch",
		Short:         "Regulatory feed ingestion and event publishing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log output format: json or text")

	root.AddCommand(
		newRunCommand(opts),
		newSourcesCommand(opts),
		newDLQCommand(opts),
		newDiagnoseCommand(opts),
	)
	return root
}

func (o *rootOptions) logger() *slog.Logger {
	var logger *slog.Logger
	if o.logFormat == "text" {
		logger = logging.NewTextLogger()
	} else {
		logger = logging.NewLogger()
	}
	slog.SetDefault(logger)
	return logger
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
