// Package subtitle renders timed transcript segments as SRT and WebVTT.
// Both renderers go through Normalize so their cues always correspond.
package subtitle

import (
	"fmt"
	"math"
	"strings"

	"github.com/psantana5/whisperq/pkg/models"
)

// Cue is a normalized subtitle entry with millisecond timestamps
type Cue struct {
	Index   int
	StartMS int64
	EndMS   int64
	Text    string
}

// Normalize turns raw segments into cues: timestamps are rounded to the
// nearest millisecond and clamped so end >= start >= 0, text is trimmed
// with blank lines collapsed, and segments with no text are dropped.
func Normalize(segments []models.Segment) []Cue {
	cues := make([]Cue, 0, len(segments))
	for _, seg := range segments {
		text := cleanText(seg.Text)
		if text == "" {
			continue
		}
		start := toMillis(seg.Start)
		end := toMillis(seg.End)
		if end < start {
			end = start
		}
		cues = append(cues, Cue{
			Index:   len(cues) + 1,
			StartMS: start,
			EndMS:   end,
			Text:    text,
		})
	}
	return cues
}

func toMillis(seconds float64) int64 {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

func cleanText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// FormatTimestamp renders milliseconds as HH:MM:SS<sep>mmm
func FormatTimestamp(ms int64, sep string) string {
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

func render(cues []Cue, sep string) string {
	blocks := make([]string, len(cues))
	for i, c := range cues {
		blocks[i] = fmt.Sprintf("%d\n%s --> %s\n%s\n",
			c.Index, FormatTimestamp(c.StartMS, sep), FormatTimestamp(c.EndMS, sep), c.Text)
	}
	return strings.Join(blocks, "\n")
}

// FormatSRT renders segments as SubRip: numbered blocks with HH:MM:SS,mmm timestamps
func FormatSRT(segments []models.Segment) string {
	return render(Normalize(segments), ",")
}

// FormatVTT renders segments as WebVTT: a WEBVTT header followed by the
// same numbered cues as FormatSRT with HH:MM:SS.mmm timestamps
func FormatVTT(segments []models.Segment) string {
	cues := Normalize(segments)
	if len(cues) == 0 {
		return "WEBVTT\n"
	}
	return "WEBVTT\n\n" + render(cues, ".")
}
