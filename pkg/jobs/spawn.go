package jobs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/psantana5/whisperq/pkg/store"
)

// ProcessSpawner starts each watcher as a detached "watch <job_id>"
// invocation of the current executable. The child outlives the submitting
// command and logs to <LogDir>/<job_id>.log.
type ProcessSpawner struct {
	// Executable defaults to the running binary
	Executable string
	// Args are prepended before "watch <job_id>", e.g. global flags
	Args   []string
	LogDir string
	Env    []string
}

// NewProcessSpawner creates a spawner for the running executable
func NewProcessSpawner(logDir string, args ...string) (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ProcessSpawner{Executable: exe, Args: args, LogDir: logDir}, nil
}

// LogPath returns the watcher log file for a job
func (p *ProcessSpawner) LogPath(jobID string) string {
	return filepath.Join(p.LogDir, jobID+".log")
}

// Spawn launches the watcher process and returns once it has started
func (p *ProcessSpawner) Spawn(jobID string) error {
	if err := store.ValidateJobID(jobID); err != nil {
		return err
	}
	if err := os.MkdirAll(p.LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(p.LogPath(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open watcher log: %w", err)
	}
	defer logFile.Close()

	args := append(append([]string{}, p.Args...), "watch", jobID)
	cmd := exec.Command(p.Executable, args...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), p.Env...)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	return cmd.Process.Release()
}
