package gesture

import (
	"math"
	"time"
)

// Point is a sub-pixel image position.
type Point struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// smoother applies an exponential filter to raw fingertip positions and,
// optionally, a constant-velocity alpha-beta predictor on top of it.
type smoother struct {
	alpha   float64
	predict bool
	pa, pb  float64

	ready  bool
	ema    Point
	pos    Point
	vel    Point
	lastAt time.Time
}

func newSmoother(cfg Config) *smoother {
	return &smoother{
		alpha:   cfg.Alpha,
		predict: cfg.Predict,
		pa:      cfg.PredictAlpha,
		pb:      cfg.PredictBeta,
	}
}

func (s *smoother) reset() {
	s.ready = false
	s.ema = Point{}
	s.pos = Point{}
	s.vel = Point{}
	s.lastAt = time.Time{}
}

func (s *smoother) update(raw Point, at time.Time) Point {
	if !s.ready {
		s.ready = true
		s.ema = raw
		s.pos = raw
		s.lastAt = at
		return raw
	}

	s.ema = Point{
		X: s.alpha*raw.X + (1-s.alpha)*s.ema.X,
		Y: s.alpha*raw.Y + (1-s.alpha)*s.ema.Y,
	}

	dt := at.Sub(s.lastAt).Seconds()
	s.lastAt = at
	if !s.predict || dt <= 0 {
		s.pos = s.ema
		return s.pos
	}

	predicted := Point{X: s.pos.X + s.vel.X*dt, Y: s.pos.Y + s.vel.Y*dt}
	rx := s.ema.X - predicted.X
	ry := s.ema.Y - predicted.Y
	s.pos = Point{X: predicted.X + s.pa*rx, Y: predicted.Y + s.pa*ry}
	s.vel = Point{X: s.vel.X + s.pb*rx/dt, Y: s.vel.Y + s.pb*ry/dt}
	return s.pos
}
