package models

// Defaults applied to a TranscriptionRequest when fields are omitted
const (
	DefaultLanguage         = "en"
	DefaultStorageKeyPrefix = "transcriptions/"
)

// Worker output status values
const (
	ResultStatusDone  = "done"
	ResultStatusError = "error"
)

// TranscriptionRequest is the worker pipeline input, sent to the remote
// queue as the "input" object.
type TranscriptionRequest struct {
	Source           string `json:"source"`
	JobID            string `json:"job_id"`
	Language         string `json:"language,omitempty"`
	StorageBucket    string `json:"storage_bucket,omitempty"`
	StorageKeyPrefix string `json:"storage_key_prefix,omitempty"`
	StorageEndpoint  string `json:"storage_endpoint,omitempty"`
	StorageAccessKey string `json:"storage_access_key,omitempty"`
	StorageSecretKey string `json:"storage_secret_key,omitempty"`
}

// TranscriptionResult is the worker pipeline output. Success fields and
// Error are never populated together.
type TranscriptionResult struct {
	Status       string `json:"status"`
	JobID        string `json:"job_id"`
	Language     string `json:"language,omitempty"`
	SRTPath      string `json:"srt_path,omitempty"`
	SRTKey       string `json:"srt_key,omitempty"`
	SRTBucket    string `json:"srt_bucket,omitempty"`
	RawVTTKey    string `json:"raw_vtt_key,omitempty"`
	RawVTTPath   string `json:"raw_vtt_path,omitempty"`
	SegmentsKey  string `json:"segments_key,omitempty"`
	SegmentsPath string `json:"segments_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// FailedResult builds a failure payload
func FailedResult(jobID, message string) TranscriptionResult {
	if jobID == "" {
		jobID = "unknown"
	}
	return TranscriptionResult{
		Status: ResultStatusError,
		JobID:  jobID,
		Error:  message,
	}
}

// Locations returns the artifact references of a successful result, keyed
// by artifact name.
func (r TranscriptionResult) Locations() map[string]string {
	locs := make(map[string]string)
	if r.SRTPath != "" {
		locs[ArtifactSRT] = r.SRTPath
	}
	if r.RawVTTPath != "" {
		locs[ArtifactVTT] = r.RawVTTPath
	}
	if r.SegmentsPath != "" {
		locs[ArtifactSegments] = r.SegmentsPath
	}
	return locs
}

// Segment is one timed span of transcribed text. Start and End are seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
