package text

import (
	"strings"
	"time"
)

// Fragment is one transcript waiting in the [Merger] buffer.
type Fragment struct {
	Text string
	At   time.Time
}

// MergeResult describes the outcome of [Merger.Add].
type MergeResult struct {
	// Merged is true when the fragment arrived inside the merge window and
	// was joined with the buffered fragments.
	Merged bool

	// Emit is true when the auto-translate trigger fired. Text then holds the
	// text to emit and the buffer has been cleared.
	Emit bool

	// Text is the merged text (merge branch) or the whole buffer joined
	// (no-merge branch).
	Text string
}

// Merger is the time-window accumulation strategy. Fragments that arrive
// within the merge window of the previous one are treated as a continuation
// of the same utterance. The zero value is ready to use.
type Merger struct {
	buf    []Fragment
	lastAt time.Time
}

// Add feeds one fragment into the merger.
//
// If the fragment arrived within window of the previous fragment and the
// buffer is non-empty, all buffered texts and the new one are space-joined
// into a single fragment. Otherwise the fragment is pushed on its own. In
// either case the auto-translate trigger is then evaluated on the resulting
// text with minChars; if it fires the text is emitted and the buffer is
// cleared.
func (m *Merger) Add(text string, at time.Time, window time.Duration, minChars int) MergeResult {
	text = Normalize(text)
	var res MergeResult
	if len(m.buf) > 0 && at.Sub(m.lastAt) <= window {
		merged := m.joined() + " " + text
		m.buf = append(m.buf[:0], Fragment{Text: merged, At: at})
		res = MergeResult{Merged: true, Text: merged}
	} else {
		m.buf = append(m.buf, Fragment{Text: text, At: at})
		res = MergeResult{Text: m.joined()}
	}
	m.lastAt = at

	if ShouldAutoTranslate(res.Text, minChars) {
		res.Emit = true
		m.Clear()
	}
	return res
}

// Expire emits the buffered text once more than window has passed since the
// last fragment. ok is false when nothing is due.
func (m *Merger) Expire(now time.Time, window time.Duration) (text string, ok bool) {
	if len(m.buf) == 0 || now.Sub(m.lastAt) <= window {
		return "", false
	}
	return m.Flush()
}

// Flush emits whatever is buffered and clears the buffer.
func (m *Merger) Flush() (text string, ok bool) {
	if len(m.buf) == 0 {
		return "", false
	}
	text = m.joined()
	m.Clear()
	return text, text != ""
}

// Clear drops all buffered fragments.
func (m *Merger) Clear() {
	m.buf = m.buf[:0]
}

// Len returns the number of buffered fragments.
func (m *Merger) Len() int {
	return len(m.buf)
}

func (m *Merger) joined() string {
	parts := make([]string, 0, len(m.buf))
	for _, f := range m.buf {
		if f.Text != "" {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, " ")
}
