package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildYTDLPArgs(t *testing.T) {
	args := buildYTDLPArgs("https://youtu.be/abc", "/tmp/w")
	assert.Equal(t, "bestaudio/best", argValue(args, "-f"))
	assert.Equal(t, "mp3", argValue(args, "--audio-format"))
	assert.Equal(t, "/tmp/w/source.%(ext)s", argValue(args, "-o"))
	assert.Contains(t, args, "-x")
	assert.Equal(t, "https://youtu.be/abc", args[len(args)-1])
	assert.Equal(t, "--", args[len(args)-2])
}

func TestYTDLPFetcherSourceAfterSeparator(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		return CommandLog{Command: name}, errors.New("exit status 2")
	}}
	f := &YTDLPFetcher{Path: "yt-dlp", Timeout: time.Minute, runner: runner}

	_, err := f.Fetch(context.Background(), "--batch-file=/etc/passwd", t.TempDir())
	require.Error(t, err)
	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, []string{"--", "--batch-file=/etc/passwd"}, call[len(call)-2:])
}

func TestYTDLPFetcherDownloads(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		out := strings.Replace(argValue(args, "-o"), "%(ext)s", "mp3", 1)
		mustWriteFile(t, out, "media")
		return CommandLog{Command: name}, nil
	}}
	f := &YTDLPFetcher{Path: "yt-dlp", Timeout: time.Minute, runner: runner}

	path, err := f.Fetch(context.Background(), "https://youtu.be/abc", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.mp3"), path)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "yt-dlp", runner.calls[0][0])
}

func TestYTDLPFetcherFailure(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		return CommandLog{Command: name, ExitCode: 1, Stderr: "progress\nERROR: Video unavailable\n"}, errors.New("exit status 1")
	}}
	f := &YTDLPFetcher{Path: "yt-dlp", Timeout: time.Minute, runner: runner}

	_, err := f.Fetch(context.Background(), "https://youtu.be/missing", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))
	assert.Contains(t, err.Error(), "fetch: yt-dlp failed")
	assert.Contains(t, err.Error(), "ERROR: Video unavailable")
}

func TestYTDLPFetcherNoOutput(t *testing.T) {
	f := &YTDLPFetcher{Path: "yt-dlp", Timeout: time.Minute, runner: &fakeRunner{}}
	_, err := f.Fetch(context.Background(), "https://youtu.be/abc", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))
	assert.Contains(t, err.Error(), "no media file found")
}

func TestYTDLPFetcherLocalSource(t *testing.T) {
	media := filepath.Join(t.TempDir(), "talk.mp4")
	mustWriteFile(t, media, "media")
	runner := &fakeRunner{}
	f := &YTDLPFetcher{Path: "yt-dlp", Timeout: time.Minute, runner: runner}

	path, err := f.Fetch(context.Background(), media, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, media, path)

	path, err = f.Fetch(context.Background(), "file://"+media, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, media, path)
	assert.Empty(t, runner.calls)
}

func TestFFmpegExtractor(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		writeTestWAV(t, args[len(args)-1], 16000, 16000)
		return CommandLog{Command: name}, nil
	}}
	e := &FFmpegExtractor{Path: "ffmpeg", runner: runner}

	audio, err := e.Extract(context.Background(), "/media/in.mp3", dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), audio.SampleRate)
	assert.Equal(t, uint16(1), audio.Channels)
	assert.InDelta(t, time.Second.Seconds(), audio.Duration.Seconds(), 0.01)

	args := runner.calls[0][1:]
	assert.Equal(t, "/media/in.mp3", argValue(args, "-i"))
	assert.Equal(t, "16000", argValue(args, "-ar"))
	assert.Equal(t, "1", argValue(args, "-ac"))
	assert.Equal(t, "pcm_s16le", argValue(args, "-c:a"))
}

func TestFFmpegExtractorUndecodableOutput(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		mustWriteFile(t, args[len(args)-1], "not a wav file")
		return CommandLog{Command: name}, nil
	}}
	e := &FFmpegExtractor{Path: "ffmpeg", runner: runner}

	_, err := e.Extract(context.Background(), "/media/in.mp3", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Contains(t, err.Error(), "extract_audio: ")
}

func TestFFmpegExtractorCommandFailure(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		return CommandLog{ExitCode: 1, Stderr: "in.mp3: Invalid data found when processing input"}, errors.New("exit status 1")
	}}
	e := &FFmpegExtractor{Path: "ffmpeg", runner: runner}

	_, err := e.Extract(context.Background(), "/media/in.mp3", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestParseWhisperJSON(t *testing.T) {
	data := []byte(`{"transcription":[
		{"offsets":{"from":1500,"to":3000},"text":" world"},
		{"offsets":{"from":0,"to":1500},"text":" Hello"}
	]}`)
	segs, err := parseWhisperJSON(data)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 0.0, segs[0].Start)
	assert.Equal(t, 1.5, segs[0].End)
	assert.Equal(t, " Hello", segs[0].Text)
	assert.Equal(t, 1.5, segs[1].Start)

	segs, err = parseWhisperJSON([]byte(`{"transcription":[]}`))
	require.NoError(t, err)
	assert.Empty(t, segs)

	_, err = parseWhisperJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestWhisperCPPTranscribe(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (CommandLog, error) {
		base := argValue(args, "-of")
		mustWriteFile(t, base+".json", `{"transcription":[{"offsets":{"from":0,"to":2000},"text":"hi"}]}`)
		return CommandLog{Command: name}, nil
	}}
	w := &WhisperCPP{Path: "whisper-cli", ModelPath: "/models/ggml-base.bin", Threads: 4, runner: runner}

	segs, err := w.Transcribe(context.Background(), Audio{Path: audioPath}, "de")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, 2.0, segs[0].End)

	args := runner.calls[0][1:]
	assert.Equal(t, "/models/ggml-base.bin", argValue(args, "-m"))
	assert.Equal(t, audioPath, argValue(args, "-f"))
	assert.Equal(t, "de", argValue(args, "-l"))
	assert.Equal(t, "4", argValue(args, "-t"))
	assert.Contains(t, args, "-oj")
}

func TestWhisperCPPMissingOutput(t *testing.T) {
	w := &WhisperCPP{Path: "whisper-cli", ModelPath: "/models/m.bin", runner: &fakeRunner{}}
	_, err := w.Transcribe(context.Background(), Audio{Path: filepath.Join(t.TempDir(), "a.wav")}, "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscribe))
}

func TestWhisperCPPRequiresModel(t *testing.T) {
	w := &WhisperCPP{Path: "whisper-cli", runner: &fakeRunner{}}
	_, err := w.Transcribe(context.Background(), Audio{Path: "a.wav"}, "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscribe))
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		host   string
		secure bool
		err    bool
	}{
		{"", "s3.amazonaws.com", true, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://s3.example.com", "s3.example.com", true, false},
		{"s3.example.com/", "s3.example.com", true, false},
		{"ftp://x", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, secure, err := parseEndpoint(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

func TestStageErrorFormat(t *testing.T) {
	err := &StageError{
		Stage:   StagePublish,
		Kind:    ErrStorage,
		Message: "upload failed",
		Err:     errors.New("connection refused"),
		Command: &CommandLog{Stderr: "line one\n\nlast line\n"},
	}
	assert.Equal(t, "publish: upload failed: connection refused (last line)", err.Error())
	assert.True(t, errors.Is(err, ErrStorage))
	assert.False(t, errors.Is(err, ErrFetch))
}

func TestInspectWAVMissing(t *testing.T) {
	_, err := inspectWAV(filepath.Join(t.TempDir(), "nope.wav"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
