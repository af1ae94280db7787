// Package detector provides the hand-pose provider used to steer the pointer.
package detector

import (
	"errors"
	"fmt"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// ErrInvalidLandmarks is returned by Validate for malformed provider output.
var ErrInvalidLandmarks = errors.New("invalid hand landmarks")

// coordinateSlack is how far outside [0,1] a normalized coordinate may fall.
// MediaPipe extrapolates landmarks of a hand partly out of frame.
const coordinateSlack = 0.5

// Point3D is a landmark in normalized image coordinates: x and y in [0,1]
// across the frame, z is relative depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Validate checks provider output once at ingress.
func (h *HandLandmarks) Validate() error {
	if math.IsNaN(h.Score) || h.Score < 0 || h.Score > 1 {
		return fmt.Errorf("%w: score %v", ErrInvalidLandmarks, h.Score)
	}
	switch h.Handedness {
	case "", "Left", "Right":
	default:
		return fmt.Errorf("%w: handedness %q", ErrInvalidLandmarks, h.Handedness)
	}
	for i, p := range h.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: landmark %d not finite", ErrInvalidLandmarks, i)
		}
		if p.X < -coordinateSlack || p.X > 1+coordinateSlack || p.Y < -coordinateSlack || p.Y > 1+coordinateSlack {
			return fmt.Errorf("%w: landmark %d out of frame (%.2f, %.2f)", ErrInvalidLandmarks, i, p.X, p.Y)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
