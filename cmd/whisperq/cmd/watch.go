package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/whisperq/pkg/jobs"
	"github.com/psantana5/whisperq/pkg/shutdown"
)

var watchAll bool

var watchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Run the watcher for a job in the foreground",
	Long: `Poll the remote queue for a job until it reaches a terminal state.
start-job runs this command detached; use it directly to resume a job whose
watcher died. With --all, every non-terminal job in the store is resumed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if watchAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchAll, "all", false, "resume watchers for every unfinished job")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newQueueClient()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}

	logger := newLogger()
	mgr := shutdown.New(30*time.Second, logger)
	mgr.Register("status store", shutdown.CloseResource(st))
	defer mgr.Shutdown()
	ctx, cancel := mgr.Context(context.Background())
	defer cancel()

	if watchAll {
		sup := jobs.NewSupervisor(ctx, st, client, cfg.WatcherConfig(), logger)
		mgr.Register("watchers", sup.Shutdown)
		resumed, err := sup.Resume(ctx)
		if err != nil {
			return err
		}
		logger.Info("Resumed watchers", map[string]interface{}{"jobs": len(resumed)})
		sup.Wait()
		stats := sup.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Watched %d jobs: %d finished, %d cancelled, %d faulted\n",
			stats.Started, stats.Finished, stats.Cancelled, stats.Faulted)
		return nil
	}

	logger = logger.WithField("job_id", args[0])
	err = jobs.NewWatcher(args[0], st, client, cfg.WatcherConfig(), logger).Run(ctx)
	if errors.Is(err, jobs.ErrWatchCancelled) {
		logger.Info("Watcher stopped before the job finished")
		return nil
	}
	return err
}
