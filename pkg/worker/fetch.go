package worker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Fetcher retrieves the raw media for a source into dir and returns its path
type Fetcher interface {
	Fetch(ctx context.Context, source, dir string) (string, error)
}

// YTDLPFetcher downloads remote media with yt-dlp. Local paths and
// file:// URLs are used in place without copying.
type YTDLPFetcher struct {
	Path    string
	Timeout time.Duration
	runner  commandRunner
}

// NewYTDLPFetcher creates a fetcher using the yt-dlp binary at path
func NewYTDLPFetcher(path string, timeout time.Duration) *YTDLPFetcher {
	if path == "" {
		path = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &YTDLPFetcher{Path: path, Timeout: timeout, runner: execRunner{}}
}

// localPath returns the file path for sources that refer to local files
func localPath(source string) (string, bool) {
	if strings.HasPrefix(source, "file://") {
		u, err := url.Parse(source)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if strings.Contains(source, "://") {
		return "", false
	}
	if _, err := os.Stat(source); err == nil {
		return source, true
	}
	return "", false
}

// buildYTDLPArgs builds args for an audio-only download into dir
func buildYTDLPArgs(source, dir string) []string {
	return []string{
		"--no-playlist",
		"--no-progress",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "192",
		"-o", filepath.Join(dir, "source.%(ext)s"),
		"--",
		source,
	}
}

// Fetch downloads source into dir
func (f *YTDLPFetcher) Fetch(ctx context.Context, source, dir string) (string, error) {
	if path, ok := localPath(source); ok {
		info, err := os.Stat(path)
		if err != nil {
			return "", stageErr(StageFetch, ErrFetch, err, "cannot access local source")
		}
		if info.IsDir() {
			return "", stageErr(StageFetch, ErrFetch, nil, "local source %s is a directory", path)
		}
		return path, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	args := buildYTDLPArgs(source, dir)
	log, err := f.runner.Run(ctx, f.Path, args...)
	if err != nil {
		se := stageErr(StageFetch, ErrFetch, err, "yt-dlp failed")
		if ctx.Err() == context.DeadlineExceeded {
			se.Message = fmt.Sprintf("yt-dlp timed out after %s", f.Timeout)
		}
		se.Command = &log
		return "", se
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "source.*"))
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", &StageError{Stage: StageFetch, Kind: ErrFetch, Message: "no media file found after download", Command: &log}
}
