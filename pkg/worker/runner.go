package worker

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandLog captures one external command invocation
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// commandRunner abstracts process execution for testability
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandLog, error)
}

// execRunner executes commands via os/exec
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code
func (r execRunner) Run(ctx context.Context, name string, args ...string) (CommandLog, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	log := CommandLog{
		Command: name,
		Args:    args,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
		return log, err
	}
	return log, nil
}
