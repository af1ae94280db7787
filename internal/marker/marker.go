// Package marker locates printed fiducial markers in camera frames.
//
// Markers pick the planner goal and are cleared from obstacle masks so the
// marker itself never blocks the route to it.
package marker

import (
	"errors"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when detecting on an empty frame.
var ErrEmptyFrame = errors.New("empty frame")

// Marker is one detected fiducial in frame pixels.
type Marker struct {
	ID      int            `json:"id"`
	Center  image.Point    `json:"center"`
	Corners [4]image.Point `json:"corners"`
}

// Detector finds markers in a BGR frame.
type Detector interface {
	Detect(frame *gocv.Mat) ([]Marker, error)
	Close() error
}

// Polygons returns the corner polygons of markers.
func Polygons(markers []Marker) [][]image.Point {
	polys := make([][]image.Point, len(markers))
	for i, m := range markers {
		polys[i] = m.Corners[:]
	}
	return polys
}

func fromCorners(id int, corners []gocv.Point2f, scale float32) Marker {
	m := Marker{ID: id}
	var sx, sy float32
	for i := 0; i < 4 && i < len(corners); i++ {
		x := corners[i].X / scale
		y := corners[i].Y / scale
		m.Corners[i] = image.Pt(int(x+0.5), int(y+0.5))
		sx += x
		sy += y
	}
	m.Center = image.Pt(int(sx/4), int(sy/4))
	return m
}

// MockDetector is a test implementation of the Detector interface.
type MockDetector struct {
	mu      sync.Mutex
	markers []Marker
	err     error
}

// NewMockDetector creates a MockDetector that finds nothing.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetMarkers sets the markers returned by Detect.
func (m *MockDetector) SetMarkers(markers []Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers = markers
}

// SetError sets the error returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the configured markers.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Marker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]Marker(nil), m.markers...), nil
}

// Close is a no-op.
func (m *MockDetector) Close() error {
	return nil
}

// Square returns a marker with the given id covering an axis aligned square.
func Square(id int, center image.Point, half int) Marker {
	return Marker{
		ID:     id,
		Center: center,
		Corners: [4]image.Point{
			{center.X - half, center.Y - half},
			{center.X + half, center.Y - half},
			{center.X + half, center.Y + half},
			{center.X - half, center.Y + half},
		},
	}
}
