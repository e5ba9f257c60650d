package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ShouldAutoTranslate reports whether text is long enough and complete enough
// to be sent for translation right away. Both conditions are required: the
// trimmed text must contain at least minChars characters and at least one
// sentence terminator followed by whitespace or the end of the text.
func ShouldAutoTranslate(text string, minChars int) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if utf8.RuneCountInString(trimmed) < minChars {
		return false
	}
	return HasCompleteSentence(trimmed)
}

// HasCompleteSentence reports whether text contains a sentence terminator
// followed by whitespace or the end of the text.
func HasCompleteSentence(text string) bool {
	runes := []rune(text)
	for i, r := range runes {
		if !isTerminator(r) {
			continue
		}
		k := i + 1
		for k < len(runes) && (isTerminator(runes[k]) || isCloser(runes[k])) {
			k++
		}
		if k == len(runes) || unicode.IsSpace(runes[k]) {
			return true
		}
	}
	return false
}
