package gesture

import "time"

// Sample is one smoothed pointer observation.
type Sample struct {
	Point
	At time.Time
}

// history is a fixed-capacity ring buffer of the most recent samples.
type history struct {
	buf  []Sample
	next int
	size int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{buf: make([]Sample, capacity)}
}

func (h *history) push(s Sample) {
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

func (h *history) len() int { return h.size }

func (h *history) clear() {
	h.next = 0
	h.size = 0
}

// spread returns the maximum pairwise distance between held samples.
func (h *history) spread() float64 {
	widest := 0.0
	for i := 0; i < h.size; i++ {
		for j := i + 1; j < h.size; j++ {
			if d := h.buf[i].Distance(h.buf[j].Point); d > widest {
				widest = d
			}
		}
	}
	return widest
}
