package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/youpy/go-wav"
)

// Audio describes the decoded waveform handed to the transcriber
type Audio struct {
	Path       string
	SampleRate uint32
	Channels   uint16
	Duration   time.Duration
}

// Extractor turns fetched media into a decodable waveform
type Extractor interface {
	Extract(ctx context.Context, mediaPath, dir string) (Audio, error)
}

// FFmpegExtractor converts media to 16 kHz mono PCM WAV with ffmpeg and
// verifies the result by decoding its header
type FFmpegExtractor struct {
	Path   string
	runner commandRunner
}

// NewFFmpegExtractor creates an extractor using the ffmpeg binary at path
func NewFFmpegExtractor(path string) *FFmpegExtractor {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegExtractor{Path: path, runner: execRunner{}}
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// Extract runs ffmpeg and decodes the produced WAV
func (e *FFmpegExtractor) Extract(ctx context.Context, mediaPath, dir string) (Audio, error) {
	outPath := filepath.Join(dir, "audio-16k-mono.wav")
	log, err := e.runner.Run(ctx, e.Path, buildFFmpegArgs(mediaPath, outPath)...)
	if err != nil {
		se := stageErr(StageExtract, ErrDecode, err, "ffmpeg audio conversion failed")
		se.Command = &log
		return Audio{}, se
	}

	audio, err := inspectWAV(outPath)
	if err != nil {
		se := stageErr(StageExtract, ErrDecode, err, "extracted audio is not decodable")
		se.Command = &log
		return Audio{}, se
	}
	return audio, nil
}

// inspectWAV reads the WAV header and duration
func inspectWAV(path string) (Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return Audio{}, err
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		return Audio{}, fmt.Errorf("read wav format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return Audio{}, fmt.Errorf("unsupported wav encoding %d", format.AudioFormat)
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return Audio{}, fmt.Errorf("wav header has no channels or sample rate")
	}
	duration, err := reader.Duration()
	if err != nil {
		return Audio{}, fmt.Errorf("read wav duration: %w", err)
	}
	return Audio{
		Path:       path,
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		Duration:   duration,
	}, nil
}
