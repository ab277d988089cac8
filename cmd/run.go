package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// newRunCmd creates the 'run' subcommand: one pipeline run, report on stdout.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the ingestion pipeline once",
		Long: `Fetches the current feed page, resolves and indexes every article, and
prints the run report as JSON. Per-article failures are counted in the
report; the command only fails when the run could not start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a App) error {
				report, err := a.Runner().Run(ctx)
				if encErr := writeReport(cmd, report); encErr != nil {
					return encErr
				}
				switch {
				case err == nil:
					return nil
				case errors.Is(err, news.ErrLocked):
					a.Logger().Info("run skipped; another instance holds the run lock")
					return nil
				default:
					a.Logger().Error("run did not complete", zap.String("run_id", report.RunID), zap.Error(err))
					return fmt.Errorf("run: %w", err)
				}
			})
		},
	}
}

func writeReport(cmd *cobra.Command, report any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
