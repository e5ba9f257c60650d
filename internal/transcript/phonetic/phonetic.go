// Package phonetic matches misheard words against a glossary of known terms.
//
// Candidates are found in two passes. A term is a phonetic candidate when any
// Double Metaphone code of the input shares a code with the term; it is
// accepted when its Jaro-Winkler similarity reaches the phonetic threshold.
// Without a phonetic candidate, terms are accepted on Jaro-Winkler similarity
// alone against the stricter fuzzy threshold.
//
// Similarity is the best of three comparisons: full strings, strings with
// spaces removed, and the best single token pair. Multi-word terms such as
// "Kubernetes Operator" therefore match partial or run-together renditions.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores phrases against a [Glossary]. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a glossary entry with its comparison forms precomputed.
type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Glossary is a prepared list of terms. Build it once with [Prepare] and
// share it between calls.
type Glossary struct {
	terms    []term
	maxWords int
}

// Prepare precomputes the phonetic codes of terms. Blank terms are skipped.
func Prepare(terms []string) *Glossary {
	g := &Glossary{}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		g.terms = append(g.terms, term{
			text:   strings.TrimSpace(t),
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
		g.maxWords = max(g.maxWords, len(tokens))
	}
	return g
}

// Len returns the number of terms.
func (g *Glossary) Len() int { return len(g.terms) }

// MaxWords returns the word count of the longest term.
func (g *Glossary) MaxWords() int { return g.maxWords }

// Match finds the glossary term most similar to phrase. When matched is
// false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, g *Glossary) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if g == nil || len(g.terms) == 0 || lower == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	codes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range g.terms {
		score := similarity(tokens, t.tokens, lower, t.lower)
		if codesOverlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.text, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}

	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of the non-empty Double Metaphone codes of
// tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair.
func similarity(inTokens, termTokens []string, inFull, termFull string) float64 {
	score := matchr.JaroWinkler(inFull, termFull, false)

	if len(inTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
