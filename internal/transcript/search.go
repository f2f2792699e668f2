package transcript

import (
	"unicode"
	"unicode/utf8"
)

// Match is one hit. Start and End are byte offsets into the paragraph text.
type Match struct {
	Paragraph int `json:"paragraph"`
	Index     int `json:"index"`
	Start     int `json:"start"`
	End       int `json:"end"`
}

type SearchResult struct {
	Query string `json:"query"`
	// Counts holds the number of matches per paragraph.
	Counts  []int   `json:"counts"`
	Total   int     `json:"total"`
	Matches []Match `json:"matches"`
}

// Offset returns the global index of the first match in paragraph i.
func (r SearchResult) Offset(i int) int {
	offset := 0
	for p := 0; p < i && p < len(r.Counts); p++ {
		offset += r.Counts[p]
	}
	return offset
}

// CountMatches counts non-overlapping, case-insensitive occurrences of query.
func CountMatches(text, query string) int {
	return len(matchSpans(text, query))
}

// Search numbers matches across paragraphs in reading order.
func Search(paragraphs []Paragraph, query string) SearchResult {
	result := SearchResult{
		Query:   query,
		Counts:  make([]int, len(paragraphs)),
		Matches: make([]Match, 0),
	}
	for i, p := range paragraphs {
		for _, span := range matchSpans(p.Text, query) {
			result.Matches = append(result.Matches, Match{
				Paragraph: i,
				Index:     result.Total,
				Start:     span[0],
				End:       span[1],
			})
			result.Counts[i]++
			result.Total++
		}
	}
	return result
}

// Span is a run of paragraph text, either plain or one match.
type Span struct {
	Text   string `json:"text"`
	Match  bool   `json:"match,omitempty"`
	Active bool   `json:"active,omitempty"`
	Index  int    `json:"index,omitempty"`
}

// Highlight splits text into plain and matched spans. Match numbering starts
// at offset; the match whose number equals active is flagged.
func Highlight(text, query string, offset, active int) []Span {
	spans := make([]Span, 0)
	idx := 0
	n := offset
	for _, m := range matchSpans(text, query) {
		if m[0] > idx {
			spans = append(spans, Span{Text: text[idx:m[0]]})
		}
		spans = append(spans, Span{Text: text[m[0]:m[1]], Match: true, Active: n == active, Index: n})
		n++
		idx = m[1]
	}
	if idx < len(text) {
		spans = append(spans, Span{Text: text[idx:]})
	}
	return spans
}

// HighlightAll highlights every paragraph with global match numbering.
func HighlightAll(paragraphs []Paragraph, query string, active int) [][]Span {
	out := make([][]Span, len(paragraphs))
	offset := 0
	for i, p := range paragraphs {
		out[i] = Highlight(p.Text, query, offset, active)
		offset += CountMatches(p.Text, query)
	}
	return out
}

// matchSpans lowercases rune by rune, so folding never shifts offsets, and
// advances past each hit by the query length.
func matchSpans(text, query string) [][2]int {
	if query == "" || text == "" {
		return nil
	}
	q := foldRunes(query)

	runes := make([]rune, 0, utf8.RuneCountInString(text))
	offsets := make([]int, 0, cap(runes)+1)
	for i, r := range text {
		runes = append(runes, unicode.ToLower(r))
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	var spans [][2]int
	for i := 0; i+len(q) <= len(runes); {
		if equalRunes(runes[i:i+len(q)], q) {
			spans = append(spans, [2]int{offsets[i], offsets[i+len(q)]})
			i += len(q)
			continue
		}
		i++
	}
	return spans
}

func foldRunes(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return out
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
