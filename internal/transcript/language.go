package transcript

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectLanguage votes over the lines of text and returns the most common
// detected language, or language.Und for empty input.
func DetectLanguage(text string) language.Tag {
	votes := make(map[string]int)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if code := whatlanggo.DetectLang(line).Iso6391(); code != "" {
			votes[code]++
		}
	}

	var top string
	var topCount int
	for code, count := range votes {
		if count > topCount || (count == topCount && code < top) {
			top, topCount = code, count
		}
	}
	if top == "" {
		return language.Und
	}
	return language.All.Make(top)
}

// NormalizeLanguage parses a stored or engine-reported language code.
// Unknown codes map to language.Und.
func NormalizeLanguage(raw string) language.Tag {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "auto") {
		return language.Und
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return language.Und
	}
	return tag
}

// ResolveLanguage prefers the stored code and detects from text otherwise.
func ResolveLanguage(stored, text string) language.Tag {
	if tag := NormalizeLanguage(stored); tag != language.Und {
		return tag
	}
	return DetectLanguage(text)
}
