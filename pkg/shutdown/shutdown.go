package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/whisperq/pkg/logging"
)

// Manager runs registered shutdown functions once a signal arrives
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	doneChan      chan struct{}
	once          sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		timeout:  timeout,
		logger:   logger,
		doneChan: make(chan struct{}),
	}
}

// Register adds a shutdown function
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Trigger initiates shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Context returns a context cancelled on SIGINT/SIGTERM or Trigger
func (m *Manager) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			m.logger.Info("Received signal, initiating graceful shutdown", map[string]interface{}{"signal": sig.String()})
			m.Trigger()
			cancel()
		case <-m.doneChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown executes all registered shutdown functions
func (m *Manager) Shutdown() {
	m.Trigger()

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		f := m.shutdownFuncs[i]
		if err := f.fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", map[string]interface{}{"step": f.name, "error": err.Error()})
		}
	}
	m.shutdownFuncs = nil

	m.logger.Info("Graceful shutdown complete")
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}

// WaitForJobs creates a shutdown function that waits until checkFunc reports no work left
func WaitForJobs(checkFunc func() bool, pollInterval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if checkFunc() {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for jobs: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
