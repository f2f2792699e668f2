package subtitle

import (
	"strings"
	"time"

	"github.com/MimeLyc/binky/internal/transcript"
)

// FromSegments turns transcript segments into cues. Each cue gets the speaker
// of the turn it overlaps most; blank segments are skipped.
func FromSegments(segments []transcript.Segment, turns []Turn) *File {
	file := &File{Lines: make([]Line, 0, len(segments))}
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		end := seg.EndMs
		if end < seg.StartMs {
			end = seg.StartMs
		}
		file.Lines = append(file.Lines, Line{
			Index:     len(file.Lines) + 1,
			StartTime: time.Duration(seg.StartMs) * time.Millisecond,
			EndTime:   time.Duration(end) * time.Millisecond,
			Speaker:   speakerFor(seg.StartMs, end, turns),
			Text:      text,
		})
	}
	return file
}

func speakerFor(startMs, endMs int64, turns []Turn) string {
	best, bestOverlap := "", int64(0)
	for _, turn := range turns {
		overlap := min(endMs, turn.EndMs) - max(startMs, turn.StartMs)
		if overlap > bestOverlap {
			best, bestOverlap = turn.Speaker, overlap
		}
	}
	return best
}
