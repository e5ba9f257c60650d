package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultFillers are interjections that carry no content on their own.
// Answers such as "yes", "no", "ja" and "nein" are content and not listed.
var DefaultFillers = []string{
	"uh", "uhm", "um", "umm", "hm", "hmm", "mhm", "mm", "ah", "oh", "eh", "er",
	"äh", "ähm", "öh", "ok", "okay", "yeah", "so", "well",
}

// DefaultGreetings are single-word greetings and courtesies that are not
// worth a translation card.
var DefaultGreetings = []string{
	"hi", "hey", "hello", "hallo", "bye", "goodbye", "tschüss", "ciao",
	"thanks", "danke",
}

// hallucinations are captions speech models emit for non-speech audio.
var hallucinations = []string{
	"blank_audio", "blank audio", "music", "musik", "silence", "applause",
	"no speech", "inaudible", "untertitel",
}

// FilterSettings controls [Meaningless]. It is resolved fresh from
// configuration for every transcript.
type FilterSettings struct {
	// Enabled turns the filler and length heuristics on. Empty text and
	// non-speech captions are always rejected.
	Enabled bool

	// MinChars rejects trimmed text shorter than this many characters.
	MinChars int

	// Fillers and Greetings are matched case-insensitively against every
	// word of the text. Text made up only of these words is meaningless.
	Fillers   []string
	Greetings []string

	// ClearFragments asks the caller to also drop any pending fragment
	// buffer when a transcript is rejected.
	ClearFragments bool
}

// Meaningless reports whether text carries no content worth processing.
func Meaningless(text string, fs FilterSettings) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || isCaption(trimmed) {
		return true
	}
	words := strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	if len(words) == 0 {
		return true
	}
	if !fs.Enabled {
		return false
	}
	if utf8.RuneCountInString(trimmed) < fs.MinChars {
		return true
	}

	skip := make(map[string]struct{}, len(fs.Fillers)+len(fs.Greetings))
	for _, w := range fs.Fillers {
		skip[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range fs.Greetings {
		skip[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range words {
		if _, ok := skip[w]; !ok {
			return false
		}
	}
	return true
}

// isCaption reports whether s is a bracketed non-speech caption such as
// "[BLANK_AUDIO]" or "(music)".
func isCaption(s string) bool {
	open, close := s[0], s[len(s)-1]
	if !(open == '[' && close == ']') && !(open == '(' && close == ')') && !(open == '*' && close == '*') {
		return false
	}
	inner := strings.ToLower(strings.Trim(s, "[]()* "))
	if inner == "" {
		return true
	}
	for _, h := range hallucinations {
		if strings.Contains(inner, h) {
			return true
		}
	}
	return false
}
