package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/jobs"
)

var (
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := jobs.Prune(cmd.Context(), st, jobs.PruneConfig{
			OlderThan: pruneOlderThan,
			DryRun:    pruneDryRun,
		}, time.Now(), newLogger())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		verb := "Deleted"
		if pruneDryRun {
			verb = "Would delete"
		}
		for _, id := range stats.Deleted {
			fmt.Fprintln(out, id)
		}
		fmt.Fprintf(out, "%s %d of %d jobs (%d kept)\n", verb, len(stats.Deleted), stats.Scanned, stats.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "minimum age since the last update")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be deleted without deleting")
}
