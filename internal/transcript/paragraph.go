package transcript

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParagraphGapMs is the silence between two segments that starts a new paragraph.
const ParagraphGapMs int64 = 2000

// Segment is one time-stamped piece of a stored transcript.
type Segment struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Paragraph is derived on every load and never stored.
type Paragraph struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
}

func ParseSegments(raw string) ([]Segment, error) {
	var segments []Segment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// GroupIntoParagraphs joins consecutive segments and breaks whenever the gap
// after the previous segment exceeds ParagraphGapMs. Segment texts are trimmed
// and joined with a single space; blank paragraphs are dropped.
func GroupIntoParagraphs(segments []Segment) []Paragraph {
	paragraphs := make([]Paragraph, 0)
	if len(segments) == 0 {
		return paragraphs
	}

	var texts []string
	startMs := segments[0].StartMs
	prevEnd := segments[0].EndMs

	flush := func() {
		if text := strings.TrimSpace(strings.Join(texts, " ")); text != "" {
			paragraphs = append(paragraphs, Paragraph{Text: text, StartMs: startMs})
		}
		texts = texts[:0]
	}
	add := func(text string) {
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	for i, seg := range segments {
		if i > 0 && seg.StartMs-prevEnd > ParagraphGapMs {
			flush()
			startMs = seg.StartMs
		}
		add(seg.Text)
		prevEnd = seg.EndMs
	}
	flush()
	return paragraphs
}

// GroupSegmentsJSON is GroupIntoParagraphs over stored segments_json.
// Unparsable input yields no paragraphs.
func GroupSegmentsJSON(raw string) []Paragraph {
	if strings.TrimSpace(raw) == "" {
		return []Paragraph{}
	}
	segments, err := ParseSegments(raw)
	if err != nil {
		return []Paragraph{}
	}
	return GroupIntoParagraphs(segments)
}

var blankLines = regexp.MustCompile(`\n{2,}`)

// SplitFullText splits plain transcript text on blank lines. Without timing
// information each chunk gets a synthetic start of index seconds.
func SplitFullText(full string) []Paragraph {
	paragraphs := make([]Paragraph, 0)
	for i, chunk := range blankLines.Split(full, -1) {
		if text := strings.TrimSpace(chunk); text != "" {
			paragraphs = append(paragraphs, Paragraph{Text: text, StartMs: int64(i) * 1000})
		}
	}
	return paragraphs
}

// Paragraphs prefers timed segments and falls back to the full text.
func Paragraphs(segmentsJSON, fullText string) []Paragraph {
	if groups := GroupSegmentsJSON(segmentsJSON); len(groups) > 0 {
		return groups
	}
	return SplitFullText(fullText)
}
