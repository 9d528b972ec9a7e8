package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/youpy/go-wav"
)

// fakeRunner simulates command execution.
type fakeRunner struct {
	run   func(ctx context.Context, name string, args ...string) (CommandLog, error)
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandLog, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return CommandLog{Command: name, Args: args}, nil
	}
	return f.run(ctx, name, args...)
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeTestWAV writes numSamples of 16-bit mono PCM at sampleRate
func writeTestWAV(t *testing.T, path string, numSamples, sampleRate uint32) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	samples := make([]wav.Sample, numSamples)
	for i := range samples {
		samples[i].Values[0] = (i % 64) * 100
	}
	w := wav.NewWriter(f, numSamples, 1, sampleRate, 16)
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
