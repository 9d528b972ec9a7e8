package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/store"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Stop watching a job",
	Long: `Ask the job's watcher to stop at its next poll. The record keeps its last
observed status; the remote job itself is not cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RequestCancel(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
