package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	maintenanceCmd := &cobra.Command{
		Use:   "maintenance JOB",
		Short: "Run one maintenance job now (quota-reset, purge, digest, reindex)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			job, ok := a.Job(args[0])
			if !ok {
				return fmt.Errorf("unknown job %q", args[0])
			}
			// Triggers stay registered so purges clean up the index.
			a.Start()
			if err := a.Scheduler().RunJob(ctx, job); err != nil {
				return err
			}
			log.Info().Str("job", job.Name).Msg("done")
			_, _ = fmt.Fprintf(os.Stdout, "%s: ok\n", job.Name)
			return nil
		},
	}
	rootCmd.AddCommand(maintenanceCmd)
}
