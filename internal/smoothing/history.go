// Package smoothing implements a per-session moving average over aligned
// landmark sets.
package smoothing

import (
	"github.com/banshee-data/articulate/internal/landmarks"
)

// DefaultWindow keeps the overlay responsive while damping detector jitter.
const DefaultWindow = 2

// History is a bounded FIFO of the most recent landmark sets. It is not safe
// for concurrent use; each session owns its own.
type History struct {
	window  int
	entries []landmarks.LandmarkSet
}

// NewHistory returns an empty history of the given window. Windows below 1
// are treated as 1.
func NewHistory(window int) *History {
	if window < 1 {
		window = 1
	}
	return &History{window: window, entries: make([]landmarks.LandmarkSet, 0, window+1)}
}

// Window returns the configured window size.
func (h *History) Window() int { return h.window }

// Len returns the number of sets currently held.
func (h *History) Len() int { return len(h.entries) }

// Reset discards all held sets.
func (h *History) Reset() {
	for i := range h.entries {
		h.entries[i] = nil
	}
	h.entries = h.entries[:0]
}

// Smooth appends current, evicts the oldest set once the window is
// exceeded and returns the point-wise mean of the held sets. A set with a
// different cardinality from the held ones restarts the history.
func (h *History) Smooth(current landmarks.LandmarkSet) landmarks.LandmarkSet {
	if len(h.entries) > 0 && len(h.entries[0]) != len(current) {
		h.Reset()
	}
	h.entries = append(h.entries, current.Clone())
	if len(h.entries) > h.window {
		h.entries[0] = nil
		h.entries = append(h.entries[:0], h.entries[1:]...)
	}

	out := make(landmarks.LandmarkSet, len(current))
	if len(h.entries) == 1 {
		copy(out, h.entries[0])
		return out
	}
	for _, set := range h.entries {
		for i, p := range set {
			out[i].X += p.X
			out[i].Y += p.Y
		}
	}
	n := float64(len(h.entries))
	for i := range out {
		out[i].X /= n
		out[i].Y /= n
	}
	return out
}
