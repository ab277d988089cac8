package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newSweepCmd creates the 'sweep' subcommand.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deletes articles older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a App) error {
				res, err := a.Retention().Sweep(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				return writeReport(cmd, map[string]any{"cutoff": res.Cutoff, "deleted": res.Deleted})
			})
		},
	}
}
