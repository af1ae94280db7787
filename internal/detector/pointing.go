package detector

import (
	"image"
	"math"
)

// IsPointing reports whether the hand holds a pointing pose: the index finger
// extended upward and at least two of the other three fingers folded.
func (h *HandLandmarks) IsPointing() bool {
	p := h.Points
	if !(p[IndexTip].Y < p[IndexPIP].Y && p[IndexPIP].Y < p[IndexMCP].Y) {
		return false
	}

	folded := 0
	for _, f := range [][2]int{{MiddleTip, MiddlePIP}, {RingTip, RingPIP}, {PinkyTip, PinkyPIP}} {
		if p[f[0]].Y > p[f[1]].Y {
			folded++
		}
	}
	return folded >= 2
}

// Fingertip returns the index fingertip in pixels of a width x height frame.
// The point may lie outside the frame for a partly visible hand.
func (h *HandLandmarks) Fingertip(width, height int) image.Point {
	tip := h.Points[IndexTip]
	return image.Pt(
		int(math.Round(tip.X*float64(width))),
		int(math.Round(tip.Y*float64(height))),
	)
}

// Primary picks the most confident hand at or above minScore.
func Primary(hands []HandLandmarks, minScore float64) (HandLandmarks, bool) {
	best := -1
	for i := range hands {
		if hands[i].Score < minScore {
			continue
		}
		if best < 0 || hands[i].Score > hands[best].Score {
			best = i
		}
	}
	if best < 0 {
		return HandLandmarks{}, false
	}
	return hands[best], true
}
