package text

import "slices"

// DefaultDedupCapacity is the number of recent sentences remembered by a
// [Deduplicator] when no capacity is given.
const DefaultDedupCapacity = 5

// Deduplicator suppresses sentences that exactly match one of the most
// recently admitted sentences after normalisation.
type Deduplicator struct {
	window   []string
	capacity int
}

// NewDeduplicator returns a Deduplicator remembering up to capacity
// sentences. A capacity < 1 selects [DefaultDedupCapacity].
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity < 1 {
		capacity = DefaultDedupCapacity
	}
	return &Deduplicator{
		window:   make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Admit reports whether sentence should be kept. Kept sentences are pushed
// into the window, evicting the oldest entry when full. Empty sentences are
// never admitted.
func (d *Deduplicator) Admit(sentence string) bool {
	norm := Normalize(sentence)
	if norm == "" || slices.Contains(d.window, norm) {
		return false
	}
	if len(d.window) == d.capacity {
		copy(d.window, d.window[1:])
		d.window = d.window[:len(d.window)-1]
	}
	d.window = append(d.window, norm)
	return true
}

// Len returns the number of sentences currently remembered.
func (d *Deduplicator) Len() int {
	return len(d.window)
}
