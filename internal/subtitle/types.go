package subtitle

import (
	"fmt"
	"strings"
	"time"
)

// Format is a caption file format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// ParseFormat accepts srt and vtt in any case; empty means srt.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatSRT:
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("unsupported subtitle format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatVTT {
		return "text/vtt; charset=utf-8"
	}
	return "application/x-subrip; charset=utf-8"
}

// Line is a single cue
type Line struct {
	Index     int           // 1-based
	StartTime time.Duration // start time
	EndTime   time.Duration // end time
	Speaker   string        // display name, empty when unknown
	Text      string
}

// File is a complete caption track
type File struct {
	Lines    []Line
	Language string
}

// Turn is a stretch of audio attributed to one speaker.
type Turn struct {
	StartMs int64
	EndMs   int64
	Speaker string
}
