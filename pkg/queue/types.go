package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Remote status vocabulary of the serverless queue
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusTimedOut   = "TIMED_OUT"
)

// ErrJobNotFound is returned when the remote queue has no record of a job
var ErrJobNotFound = errors.New("remote job not found")

// SubmitResponse is returned by POST /run
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	// HTTPStatus and Body are the response exactly as received
	HTTPStatus int    `json:"-"`
	Body       []byte `json:"-"`
}

// StatusResponse is returned by GET /status/{id}
type StatusResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
	DelayTime     int64           `json:"delayTime,omitempty"`
	ExecutionTime int64           `json:"executionTime,omitempty"`
}

// ErrorText renders the remote error field, which may be a string or an object
func (r *StatusResponse) ErrorText() string {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s
	}
	return string(r.Error)
}

// Poll is the outcome of one status request. Body and HTTPStatus are
// kept even when the response could not be decoded, for the history log.
type Poll struct {
	HTTPStatus int
	Body       []byte
	Response   *StatusResponse
}

// APIError is a non-2xx answer from the remote queue
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, body)
}

// Is lets errors.Is(err, ErrJobNotFound) match a 404
func (e *APIError) Is(target error) bool {
	return target == ErrJobNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether repeating the request may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
