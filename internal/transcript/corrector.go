// Package transcript fixes recognition errors in speech-to-text output before
// it is accumulated into sentences.
//
// Speech recognizers routinely mishear proper nouns and jargon: product
// names, people, places. A [Corrector] holds a glossary of such terms and
// replaces words or short word runs that sound and look like a term with its
// canonical spelling. Punctuation around the replaced words is kept, so
// sentence boundaries are never moved.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/interpreta/internal/transcript/phonetic"
)

// defaultMinLengthRatio rejects matches where the heard phrase is much
// shorter or longer than the term, e.g. "post" for "PostgreSQL".
const defaultMinLengthRatio = 0.6

// Correction captures a single substitution.
type Correction struct {
	// Original is the phrase as produced by the recognizer, without
	// surrounding punctuation.
	Original string

	// Corrected is the glossary term that replaced it.
	Corrected string

	// Confidence is the similarity score (0.0–1.0).
	Confidence float64
}

// Option is a functional option for [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) {
		if m != nil {
			c.matcher = m
		}
	}
}

// WithMinLengthRatio sets the minimum ratio between the letter counts of the
// heard phrase and the term. Default: 0.6.
func WithMinLengthRatio(r float64) Option {
	return func(c *Corrector) {
		c.minRatio = r
	}
}

// Corrector applies glossary corrections to text. It is read-only after
// construction and safe for concurrent use.
type Corrector struct {
	matcher  *phonetic.Matcher
	glossary *phonetic.Glossary
	minRatio float64
}

// New returns a Corrector for terms. With no terms, Correct returns its input
// unchanged.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher:  phonetic.New(),
		glossary: phonetic.Prepare(terms),
		minRatio: defaultMinLengthRatio,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Terms returns the number of glossary terms.
func (c *Corrector) Terms() int { return c.glossary.Len() }

// token is one whitespace-separated word split into its punctuation and its
// letters.
type token struct {
	lead, core, trail string
}

func splitToken(s string) token {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(s, isWord)
	if start < 0 {
		return token{lead: s}
	}
	end := strings.LastIndexFunc(s, isWord)
	_, size := utf8.DecodeRuneInString(s[end:])
	return token{lead: s[:start], core: s[start : end+size], trail: s[end+size:]}
}

// Correct returns text with glossary corrections applied, and the list of
// substitutions in order. Text without corrections is returned unchanged.
//
// At each word the longest run of words (up to one more than the longest
// term) that matches a term wins. A run of several words is only accepted
// when it matches strictly better than its best single word, so neighbouring
// words are not swallowed into a term.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c.glossary.Len() == 0 {
		return text, nil
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text, nil
	}
	tokens := make([]token, len(fields))
	for i, f := range fields {
		tokens[i] = splitToken(f)
	}

	// Raw single-word scores, computed on demand.
	singles := make([]*float64, len(tokens))
	singleScore := func(i int) float64 {
		if singles[i] == nil {
			_, score, _ := c.matcher.Match(tokens[i].core, c.glossary)
			singles[i] = &score
		}
		return *singles[i]
	}

	maxWindow := c.glossary.MaxWords() + 1
	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		consumed := 0
		for n := min(maxWindow, len(tokens)-i); n >= 1; n-- {
			if !joinable(tokens[i : i+n]) {
				continue
			}
			phrase := joinCores(tokens[i : i+n])
			term, score, ok := c.match(phrase)
			if !ok {
				continue
			}
			if n > 1 && !improves(score, i, n, singleScore) {
				continue
			}
			consumed = n
			corrections = append(corrections, Correction{Original: phrase, Corrected: term, Confidence: score})
			out = append(out, tokens[i].lead+term+tokens[i+n-1].trail)
			break
		}
		if consumed == 0 {
			out = append(out, fields[i])
			consumed = 1
		}
		i += consumed
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// match runs the matcher on phrase and applies the length ratio guard.
func (c *Corrector) match(phrase string) (string, float64, bool) {
	if phrase == "" {
		return phrase, 0, false
	}
	term, score, ok := c.matcher.Match(phrase, c.glossary)
	if !ok {
		return phrase, 0, false
	}
	// Exact matches need no rewrite.
	if term == phrase {
		return phrase, 0, false
	}
	a, b := letters(phrase), letters(term)
	if min(a, b) < c.minRatio*float64(max(a, b)) {
		return phrase, 0, false
	}
	return term, score, true
}

// improves reports whether a multi-word score beats every single word of the
// run.
func improves(score float64, i, n int, singleScore func(int) float64) bool {
	for j := i; j < i+n; j++ {
		if singleScore(j) >= score {
			return false
		}
	}
	return true
}

// joinable reports whether a run of tokens may be treated as one phrase: no
// punctuation may separate the words.
func joinable(run []token) bool {
	for k, t := range run {
		if t.core == "" {
			return false
		}
		if k > 0 && t.lead != "" {
			return false
		}
		if k < len(run)-1 && t.trail != "" {
			return false
		}
	}
	return true
}

func joinCores(run []token) string {
	cores := make([]string, len(run))
	for k, t := range run {
		cores[k] = t.core
	}
	return strings.Join(cores, " ")
}

func letters(s string) float64 {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return float64(n)
}
