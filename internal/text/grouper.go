package text

import (
	"strings"
	"unicode/utf8"
)

// Sentences-per-card bounds accepted by [Grouper.Add].
const (
	MinSentencesPerCard = 1
	MaxSentencesPerCard = 3
)

// ClampPerCard limits n to the supported sentences-per-card range.
func ClampPerCard(n int) int {
	return max(MinSentencesPerCard, min(n, MaxSentencesPerCard))
}

// Grouper batches sentences into display units. The zero value is ready to
// use.
type Grouper struct {
	buf []string
}

// Add appends sentence and returns every unit that became complete. Units
// are formed by splicing exactly perCard sentences off the front of the
// buffer, so surplus sentences carry over to the next unit.
func (g *Grouper) Add(sentence string, perCard int) []string {
	if sentence = Normalize(sentence); sentence != "" {
		g.buf = append(g.buf, sentence)
	}
	n := ClampPerCard(perCard)
	var units []string
	for len(g.buf) >= n {
		units = append(units, strings.Join(g.buf[:n], " "))
		g.buf = append(g.buf[:0], g.buf[n:]...)
	}
	return units
}

// Flush returns all buffered sentences as one final unit. ok is false when
// the buffer is empty.
func (g *Grouper) Flush() (unit string, ok bool) {
	if len(g.buf) == 0 {
		return "", false
	}
	unit = strings.Join(g.buf, " ")
	g.buf = g.buf[:0]
	return unit, true
}

// Pending returns the buffered sentences joined with spaces.
func (g *Grouper) Pending() string {
	return strings.Join(g.buf, " ")
}

// Len returns the number of buffered sentences.
func (g *Grouper) Len() int {
	return len(g.buf)
}

// SplitByChars splits text into units along sentence boundaries. Units are
// filled greedily up to maxChars characters; a single sentence longer than
// maxChars forms a unit on its own. A trailing unit shorter than minChars is
// merged into the previous one. A maxChars < 1 disables splitting.
func SplitByChars(text string, maxChars, minChars int) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	if maxChars < 1 {
		return []string{text}
	}

	pieces, rest := splitSentences(text)
	if rest = Normalize(rest); rest != "" {
		pieces = append(pieces, rest)
	}

	var units []string
	var cur string
	for _, p := range pieces {
		switch {
		case cur == "":
			cur = p
		case runeLen(cur)+1+runeLen(p) <= maxChars:
			cur += " " + p
		default:
			units = append(units, cur)
			cur = p
		}
	}
	if cur != "" {
		units = append(units, cur)
	}

	if n := len(units); n > 1 && runeLen(units[n-1]) < minChars {
		units[n-2] += " " + units[n-1]
		units = units[:n-1]
	}
	return units
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
