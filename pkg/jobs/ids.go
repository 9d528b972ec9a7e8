// Package jobs implements the local side of a transcription job: submission
// to the remote queue, the watcher that drives each record to a terminal
// state, and read-only queries over the status store.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewJobID returns a time-ordered job identifier with a random suffix,
// e.g. 20260119-142501-3f9c2a1b
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102-150405") + "-" + suffix
}
