package worker

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. A StageError matches its kind through errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrFetch      = errors.New("fetch error")
	ErrDecode     = errors.New("decode error")
	ErrTranscribe = errors.New("transcription error")
	ErrStorage    = errors.New("storage error")
)

// Pipeline stage names, used in failure messages, metrics and spans
const (
	StageValidate   = "validate"
	StageFetch      = "fetch"
	StageExtract    = "extract_audio"
	StageTranscribe = "transcribe"
	StageFormat     = "format"
	StagePublish    = "publish"
)

// StageError is a stage-aware failure with optional command context
type StageError struct {
	Stage   string
	Kind    error
	Message string
	Command *CommandLog
	Err     error
}

// Error formats the failure as "<stage>: <message>[: <cause>]"
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Stage + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Command != nil && e.Command.Stderr != "" {
		msg += " (" + lastLine(e.Command.Stderr) + ")"
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the failure kind
func (e *StageError) Is(target error) bool {
	return e != nil && e.Kind == target
}

func stageErr(stage string, kind error, err error, format string, args ...interface{}) *StageError {
	return &StageError{
		Stage:   stage,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// lastLine returns the last non-empty line of command output, which is
// where ffmpeg, yt-dlp and whisper.cpp print the reason they failed.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			if len(line) > 300 {
				line = line[:300] + "..."
			}
			return line
		}
	}
	return ""
}
