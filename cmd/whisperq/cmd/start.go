package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/jobs"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/shutdown"
)

var (
	startLanguage   string
	startBucket     string
	startPrefix     string
	startEndpoint   string
	startJobID      string
	startForeground bool
	startQuiet      bool
)

var startJobCmd = &cobra.Command{
	Use:   "start-job <source>",
	Short: "Submit a media source for transcription",
	Long: `Submit a media source (a video URL or a local file path on the worker) to
the remote queue. The job is tracked by a detached watcher process; the
command returns as soon as the remote queue accepts it.`,
	Args: cobra.ExactArgs(1),
	RunE: runStartJob,
}

func init() {
	rootCmd.AddCommand(startJobCmd)

	startJobCmd.Flags().StringVarP(&startLanguage, "language", "l", "", "spoken language code, or auto (default from config)")
	startJobCmd.Flags().StringVar(&startBucket, "bucket", "", "storage bucket for the subtitles (default from config)")
	startJobCmd.Flags().StringVar(&startPrefix, "prefix", "", "storage key prefix (default from config)")
	startJobCmd.Flags().StringVar(&startEndpoint, "storage-endpoint", "", "S3-compatible storage endpoint (default from config)")
	startJobCmd.Flags().StringVar(&startJobID, "job-id", "", "use this job ID instead of generating one")
	startJobCmd.Flags().BoolVar(&startForeground, "foreground", false, "watch the job in this process until it finishes")
	startJobCmd.Flags().BoolVarP(&startQuiet, "quiet", "q", false, "print only the job ID")
}

func runStartJob(cmd *cobra.Command, args []string) error {
	client, err := newQueueClient()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger()
	opts := jobs.SubmitOptions{
		JobID:            startJobID,
		Language:         startLanguage,
		StorageBucket:    startBucket,
		StorageKeyPrefix: startPrefix,
		StorageEndpoint:  startEndpoint,
	}

	if !startForeground {
		spawner, err := jobs.NewProcessSpawner(cfg.LogDir(), passthroughFlags()...)
		if err != nil {
			return err
		}
		sub := jobs.NewSubmitter(st, client, spawner, cfg.SubmitDefaults(), logger)
		rec, err := sub.Submit(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		return reportSubmitted(cmd, rec)
	}

	mgr := shutdown.New(cfg.RequestTimeout, logger)
	ctx, cancel := mgr.Context(context.Background())
	defer cancel()

	sup := jobs.NewSupervisor(ctx, st, client, cfg.WatcherConfig(), logger)
	sub := jobs.NewSubmitter(st, client, sup, cfg.SubmitDefaults(), logger)
	rec, err := sub.Submit(ctx, args[0], opts)
	if err != nil {
		return err
	}
	if rec.Status == models.JobStatusError {
		return reportSubmitted(cmd, rec)
	}
	if !startQuiet {
		fmt.Fprintf(os.Stderr, "Job %s submitted, waiting for it to finish...\n", rec.JobID)
	}
	sup.Wait()

	final, err := jobs.NewQuery(st, 0, logger).GetStatus(context.Background(), rec.JobID)
	if err != nil {
		return err
	}
	if err := printRecord(cmd.OutOrStdout(), final); err != nil {
		return err
	}
	if final.Status == models.JobStatusError {
		return fmt.Errorf("job %s failed: %s", final.JobID, final.Error)
	}
	return nil
}

func reportSubmitted(cmd *cobra.Command, rec models.JobRecord) error {
	out := cmd.OutOrStdout()
	if startQuiet {
		fmt.Fprintln(out, rec.JobID)
	} else if err := printRecord(out, rec); err != nil {
		return err
	}
	if rec.Status == models.JobStatusError {
		return fmt.Errorf("job %s failed at submission: %s", rec.JobID, rec.Error)
	}
	return nil
}
