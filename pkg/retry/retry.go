package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // attempts after the first one
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // delay cap
	Multiplier     float64       // growth per retry
	// Jitter spreads each delay by up to this fraction in either
	// direction, e.g. 0.2 for ±20%. Zero disables it.
	Jitter float64
}

// DefaultConfig is tuned for local status store writes: a few quick
// attempts, after which the caller records a fault.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// Backoff returns the delay before retry number n (starting at 1)
func (c Config) Backoff(n int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= c.Multiplier
		if c.MaxBackoff > 0 && d >= float64(c.MaxBackoff) {
			d = float64(c.MaxBackoff)
			break
		}
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * (2*rand.Float64() - 1)
	}
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops and returns err unwrapped
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the retries
// run out, or ctx is done.
func Do(ctx context.Context, config Config, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retry cancelled: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt >= config.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, lastErr)
		}

		timer := time.NewTimer(config.Backoff(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// IsRetryable reports whether repeating the operation that produced err
// may succeed. Errors with a Retryable() method decide for themselves;
// otherwise timeouts, refused or reset connections and truncated
// responses count as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
