// Package text turns raw transcript fragments into complete sentences and
// display-sized units.
//
// Two accumulation strategies exist. The [Accumulator] treats transcripts as
// one continuous stream and extracts only complete sentences, carrying any
// unterminated tail over to the next fragment. The [Merger] treats each
// transcript as a discrete fragment and joins fragments that arrive within a
// merge window. Sentences from either strategy pass through a
// [Deduplicator] and a [Grouper] before they become messages.
//
// Nothing in this package is safe for concurrent use; every value is owned by
// a single session coordinator.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Accumulator extracts complete sentences from a stream of transcript
// fragments. The zero value is ready to use.
type Accumulator struct {
	buf string
}

// Extract appends text to the unconsumed remainder and returns every complete
// sentence found, in order. The trailing unterminated text stays buffered for
// the next call.
func (a *Accumulator) Extract(text string) []string {
	a.buf = join(a.buf, text)
	sentences, rest := splitSentences(a.buf)
	a.buf = rest
	return sentences
}

// Remainder returns the buffered text that does not yet form a sentence.
func (a *Accumulator) Remainder() string {
	return a.buf
}

// Flush returns the normalised remainder as a final sentence and clears the
// buffer. ok is false when nothing was buffered.
func (a *Accumulator) Flush() (sentence string, ok bool) {
	sentence = Normalize(a.buf)
	a.buf = ""
	return sentence, sentence != ""
}

// Reset drops the buffered remainder.
func (a *Accumulator) Reset() {
	a.buf = ""
}

// Normalize collapses runs of whitespace into single spaces and trims the
// result.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// join concatenates the remainder and a new fragment, inserting a space when
// neither side provides one at the junction.
func join(prev, next string) string {
	if prev == "" {
		return next
	}
	if next == "" {
		return prev
	}
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsSpace(last) || unicode.IsSpace(first) {
		return prev + next
	}
	return prev + " " + next
}

// splitSentences scans s for sentence boundaries. A boundary is a run of
// terminators (., !, ?, …) optionally followed by closing quotes or brackets
// and then whitespace or the end of s. A single period after a purely
// alphabetic token of at most two letters ("Dr.", "J.") is an abbreviation.
// Question and exclamation marks always end a sentence, so "Is it?" splits.
func splitSentences(s string) (sentences []string, rest string) {
	runes := []rune(s)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j < len(runes) && isTerminator(runes[j]) {
			j++
		}
		k := j
		for k < len(runes) && isCloser(runes[k]) {
			k++
		}
		if k < len(runes) && !unicode.IsSpace(runes[k]) {
			i = j - 1
			continue
		}
		if j-i == 1 && runes[i] == '.' && isAbbreviation(runes[start:i]) {
			continue
		}
		if sentence := Normalize(string(runes[start:k])); hasWord(sentence) {
			sentences = append(sentences, sentence)
		}
		start = k
		i = k - 1
	}
	return sentences, string(runes[start:])
}

// isAbbreviation reports whether the token immediately before a period is
// one or two letters long.
func isAbbreviation(prefix []rune) bool {
	p := len(prefix)
	for p > 0 && !unicode.IsSpace(prefix[p-1]) {
		p--
	}
	token := prefix[p:]
	if len(token) == 0 || len(token) > 2 {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

func hasWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
