package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/psantana5/whisperq/pkg/models"
)

// Transcriber produces timed text segments for decoded audio
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, language string) ([]models.Segment, error)
}

// WhisperCPP runs the whisper.cpp CLI and reads its JSON output
type WhisperCPP struct {
	Path      string
	ModelPath string
	Threads   int
	runner    commandRunner
}

// NewWhisperCPP creates a transcriber for the whisper.cpp binary at path
func NewWhisperCPP(path, modelPath string, threads int) *WhisperCPP {
	if path == "" {
		path = "whisper-cli"
	}
	return &WhisperCPP{Path: path, ModelPath: modelPath, Threads: threads, runner: execRunner{}}
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export
func buildWhisperArgs(modelPath, audioPath, outBase, language string, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-l", language,
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

// whisperOutput is the subset of whisper.cpp's -oj document we read
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp JSON into segments ordered by start
func parseWhisperJSON(data []byte) ([]models.Segment, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	segments := make([]models.Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		segments = append(segments, models.Segment{
			Start: float64(t.Offsets.From) / 1000,
			End:   float64(t.Offsets.To) / 1000,
			Text:  t.Text,
		})
	}
	SortSegments(segments)
	return segments, nil
}

// SortSegments orders segments by start time, keeping the original order of ties
func SortSegments(segments []models.Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
}

// Transcribe runs whisper.cpp on the audio file
func (w *WhisperCPP) Transcribe(ctx context.Context, audio Audio, language string) ([]models.Segment, error) {
	if w.ModelPath == "" {
		return nil, stageErr(StageTranscribe, ErrTranscribe, nil, "whisper model path is not configured")
	}
	outBase := filepath.Join(filepath.Dir(audio.Path), "transcript")
	log, err := w.runner.Run(ctx, w.Path, buildWhisperArgs(w.ModelPath, audio.Path, outBase, language, w.Threads)...)
	if err != nil {
		se := stageErr(StageTranscribe, ErrTranscribe, err, "whisper.cpp transcription failed")
		se.Command = &log
		return nil, se
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		se := stageErr(StageTranscribe, ErrTranscribe, err, "whisper.cpp completed but transcript JSON is missing")
		se.Command = &log
		return nil, se
	}
	segments, err := parseWhisperJSON(data)
	if err != nil {
		return nil, stageErr(StageTranscribe, ErrTranscribe, err, "malformed transcript JSON")
	}
	return segments, nil
}

// describeSegments is a short log summary
func describeSegments(segments []models.Segment) string {
	if len(segments) == 0 {
		return "no speech"
	}
	return fmt.Sprintf("%d segments, %.1fs", len(segments), segments[len(segments)-1].End)
}
