package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/jobs"
	"github.com/psantana5/whisperq/pkg/models"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch models.JobStatus(listStatus) {
		case "", models.JobStatusStarting, models.JobStatusRunning, models.JobStatusDone, models.JobStatusError:
		default:
			return fmt.Errorf("invalid status filter %q", listStatus)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := jobs.NewQuery(st, 0, newLogger()).List(cmd.Context())
		if err != nil {
			return err
		}
		if listStatus != "" {
			filtered := records[:0]
			for _, rec := range records {
				if string(rec.Status) == listStatus {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
		return printRecords(cmd.OutOrStdout(), records)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show jobs with this status (starting, running, done, error)")
}
