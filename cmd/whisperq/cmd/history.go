package cmd

import (
	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/jobs"
)

var historyLines int

var historyCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show the raw poll history of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := jobs.NewQuery(st, 0, newLogger()).GetHistory(cmd.Context(), args[0], historyLines)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), entries)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLines, "lines", "n", 20, "number of most recent entries to show (0 for all)")
}
