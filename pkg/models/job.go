package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the local lifecycle state of a transcription job
type JobStatus string

const (
	JobStatusStarting JobStatus = "starting" // Accepted by the remote queue, not yet observed running
	JobStatusRunning  JobStatus = "running"  // Remote queue reports the job queued or in progress
	JobStatusDone     JobStatus = "done"     // Artifacts published, result_locations populated
	JobStatusError    JobStatus = "error"    // Failed at submission, remotely, or in the watcher

	// JobStatusUnknown is never persisted. Queries return it for job IDs
	// this host has no record of.
	JobStatusUnknown JobStatus = "unknown"
)

// Artifact names used as keys in JobRecord.ResultLocations
const (
	ArtifactSRT      = "srt"
	ArtifactVTT      = "vtt"
	ArtifactSegments = "segments"
)

// JobRecord is the persisted local handle for one remote transcription job.
// The watcher for JobID is its only writer once it has been created.
type JobRecord struct {
	JobID           string            `json:"job_id"`
	RemoteJobID     string            `json:"remote_job_id"`
	Source          string            `json:"source,omitempty"`
	Status          JobStatus         `json:"status"`
	ResultLocations map[string]string `json:"result_locations"`
	Error           string            `json:"error"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// recordJSON is the on-disk shape: absent optional values are written as null.
type recordJSON struct {
	JobID           string            `json:"job_id"`
	RemoteJobID     *string           `json:"remote_job_id"`
	Source          string            `json:"source,omitempty"`
	Status          JobStatus         `json:"status"`
	ResultLocations map[string]string `json:"result_locations"`
	Error           *string           `json:"error"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON writes the status record format
func (r JobRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		JobID:       r.JobID,
		RemoteJobID: optional(r.RemoteJobID),
		Source:      r.Source,
		Status:      r.Status,
		Error:       optional(r.Error),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.ResultLocations) > 0 {
		out.ResultLocations = r.ResultLocations
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the status record format
func (r *JobRecord) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = JobRecord{
		JobID:           in.JobID,
		Source:          in.Source,
		Status:          in.Status,
		ResultLocations: in.ResultLocations,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.UpdatedAt,
	}
	if in.RemoteJobID != nil {
		r.RemoteJobID = *in.RemoteJobID
	}
	if in.Error != nil {
		r.Error = *in.Error
	}
	return nil
}

// IsTerminal reports whether the record can no longer change
func (r *JobRecord) IsTerminal() bool {
	return IsTerminalState(r.Status)
}

// Clone returns a deep copy so callers can mutate without touching the original
func (r JobRecord) Clone() JobRecord {
	if r.ResultLocations != nil {
		locs := make(map[string]string, len(r.ResultLocations))
		for k, v := range r.ResultLocations {
			locs[k] = v
		}
		r.ResultLocations = locs
	}
	return r
}

// NewStartingRecord creates the record written after the remote queue accepted a job
func NewStartingRecord(jobID, remoteJobID, source string, now time.Time) JobRecord {
	now = now.UTC()
	return JobRecord{
		JobID:       jobID,
		RemoteJobID: remoteJobID,
		Source:      source,
		Status:      JobStatusStarting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewFailedRecord creates a record that is terminal from the start,
// used when submission to the remote queue fails.
func NewFailedRecord(jobID, source, message string, now time.Time) JobRecord {
	now = now.UTC()
	return JobRecord{
		JobID:     jobID,
		Source:    source,
		Status:    JobStatusError,
		Error:     message,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HistoryEntry is one line of a job's append-only poll history
type HistoryEntry struct {
	Timestamp    time.Time       `json:"timestamp"`
	RemoteStatus string          `json:"remote_status,omitempty"`
	HTTPStatus   int             `json:"http_status,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// RawResponse wraps a remote response body for storage in a HistoryEntry.
// Bodies that are not valid JSON are kept as a JSON string.
func RawResponse(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
