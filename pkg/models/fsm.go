package models

import (
	"fmt"
	"time"
)

// validTransitions maps from-state to allowed to-states.
// running may be re-observed any number of times.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusStarting: {
		JobStatusRunning: true, // Starting → Running (remote queue picked it up)
		JobStatusDone:    true, // Starting → Done (finished between two polls)
		JobStatusError:   true, // Starting → Error (remote failure or watcher fault)
	},
	JobStatusRunning: {
		JobStatusRunning: true,
		JobStatusDone:    true,
		JobStatusError:   true,
	},
	// Terminal states (no transitions allowed)
	JobStatusDone:  {},
	JobStatusError: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusDone || state == JobStatusError
}

// StatusRank orders states along the lifecycle; readers use it to detect regressions.
func StatusRank(state JobStatus) int {
	switch state {
	case JobStatusStarting:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusDone, JobStatusError:
		return 2
	default:
		return -1
	}
}

// Transition returns a copy of r moved to the given state. Terminal states
// carry exactly one of locations or message; the other is cleared.
func (r JobRecord) Transition(to JobStatus, locations map[string]string, message string, now time.Time) (JobRecord, error) {
	if err := ValidateTransition(r.Status, to); err != nil {
		return r, err
	}
	next := r.Clone()
	next.Status = to
	next.UpdatedAt = now.UTC()
	next.ResultLocations = nil
	next.Error = ""
	switch to {
	case JobStatusDone:
		if len(locations) == 0 {
			return r, fmt.Errorf("done state requires result locations")
		}
		next.ResultLocations = locations
	case JobStatusError:
		if message == "" {
			message = "unknown error"
		}
		next.Error = message
	}
	return next, nil
}

// Validate checks the result/error invariant of a record
func (r *JobRecord) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if _, ok := validTransitions[r.Status]; !ok {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	hasResult := len(r.ResultLocations) > 0
	hasError := r.Error != ""
	switch r.Status {
	case JobStatusDone:
		if !hasResult || hasError {
			return fmt.Errorf("done record must carry result locations only")
		}
	case JobStatusError:
		if hasResult || !hasError {
			return fmt.Errorf("error record must carry an error message only")
		}
	default:
		if hasResult || hasError {
			return fmt.Errorf("%s record must not carry a result or error", r.Status)
		}
	}
	return nil
}
