package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/whisperq/internal/config"
	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/queue"
	"github.com/psantana5/whisperq/pkg/store"
)

var (
	cfgFile      string
	stateDir     string
	outputFormat string
	logLevel     string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "whisperq",
	Short: "Submit and track remote transcription jobs",
	Long: `whisperq submits media sources to a remote GPU transcription queue and
tracks each job locally until its subtitles are published or it fails.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <state-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for job records and logs (default ~/.whisperq)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig reads config file and ENV variables, flags win
func loadConfig(cmd *cobra.Command, args []string) error {
	switch outputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}

	v := viper.New()
	if stateDir != "" {
		v.Set("state_dir", stateDir)
	}
	if logLevel != "" {
		v.Set("log.level", logLevel)
	}
	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
}

func openStore() (store.Store, error) {
	st, err := store.NewStore(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open status store: %w", err)
	}
	return st, nil
}

func newQueueClient() (*queue.Client, error) {
	if err := cfg.RequireQueue(); err != nil {
		return nil, err
	}
	return queue.NewClient(cfg.QueueConfig()), nil
}

// passthroughFlags are the global flags a detached watcher needs to find
// the same configuration and store as its parent
func passthroughFlags() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	args = append(args, "--state-dir", cfg.StateDir)
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	return args
}
