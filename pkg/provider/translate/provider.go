// Package translate defines the Provider interface for machine translation
// gateways.
//
// Translation is idempotent and stateless: the pipeline may issue several
// calls concurrently and apply the results in whatever order they complete.
package translate

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the abstraction over any machine translation backend.
type Provider interface {
	// Translate returns text translated from language src into tgt. src may
	// be empty to let the backend detect it. Errors are returned as-is and
	// never retried.
	Translate(ctx context.Context, text, src, tgt string) (string, error)
}

// Instructions returns the system prompt used by LLM-backed translators.
func Instructions(src, tgt string) string {
	from := "the source language"
	if src != "" {
		from = src
	}
	return fmt.Sprintf("You are a professional interpreter. Translate the user's text from %s into %s. "+
		"Keep the meaning, tone and punctuation. Reply with the translation only, without quotes, notes or explanations.",
		from, tgt)
}

// Clean strips whitespace and the wrapping quotes models sometimes add around
// a translation.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"«", "»"}} {
		if len(s) > len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			if !strings.Contains(inner, q[0]) {
				s = strings.TrimSpace(inner)
			}
		}
	}
	return s
}
