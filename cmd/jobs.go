package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/clock/system"
)

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs [id]",
		Short: "List job records, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, err := buildJobStore(cmd.Context(), appInstance, system.New())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return printJSON(out, store.Read(cmd.Context(), args[0]))
			}
			recs, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			for _, rec := range recs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n",
					rec.ID, rec.State, rec.UpdatedAt.Format(time.RFC3339), rec.Info[capture.InfoDomain])
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
