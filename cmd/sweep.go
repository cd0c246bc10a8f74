package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TomaszPielecki/Snaply/internal/clock/system"
	"github.com/TomaszPielecki/Snaply/internal/jobs"
)

func newSweepCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete job records older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if maxAge <= 0 {
				maxAge = appInstance.Config.Jobs.MaxAge
			}
			store, err := buildJobStore(cmd.Context(), appInstance, system.New())
			if err != nil {
				return err
			}
			removed, err := jobs.NewSweeper(store, maxAge, appInstance.Logger.Named("sweeper")).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d job records\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "record age threshold (default jobs.max_age)")
	return cmd
}
