package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/jobs"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/shutdown"
)

var followStatus bool

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Long: `Show the local status record of a job. Job IDs this host has never
submitted report status "unknown".`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&followStatus, "follow", "f", false, "print every change until the job finishes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger()
	query := jobs.NewQuery(st, 0, logger)

	rec, err := query.GetStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !followStatus || rec.Status == models.JobStatusUnknown || rec.IsTerminal() {
		return printRecord(cmd.OutOrStdout(), rec)
	}

	mgr := shutdown.New(0, logger)
	ctx, cancel := mgr.Context(context.Background())
	defer cancel()

	var printErr error
	err = query.Follow(ctx, args[0], func(rec models.JobRecord) {
		if printErr == nil {
			printErr = printRecord(cmd.OutOrStdout(), rec)
		}
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return printErr
}
