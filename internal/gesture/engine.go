// Package gesture turns per-frame fingertip observations into dwell-confirmed
// grid selections.
//
// The Engine smooths the pointer, maps it onto an occupancy grid with cell
// hysteresis and runs a dwell timer over the committed cell. One Engine serves
// one camera session and is not safe for concurrent use.
package gesture

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/ayusman/gridpoint/internal/grid"
)

// State is the engine's confirmation state.
type State int

const (
	// Idle means no pointing hand is visible.
	Idle State = iota
	// Tracking means a pointing hand is followed but no dwell is running.
	Tracking
	// Dwelling means the pointer is holding still over a free cell.
	Dwelling
	// Confirmed is reported on the single frame that completes a dwell.
	Confirmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Dwelling:
		return "dwelling"
	case Confirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the tuning knobs of the engine.
type Config struct {
	// Alpha is the exponential smoothing weight of the newest sample (0-1].
	Alpha float64
	// Predict enables the constant-velocity predictor after smoothing.
	Predict bool
	// PredictAlpha is the position gain of the predictor.
	PredictAlpha float64
	// PredictBeta is the velocity gain of the predictor.
	PredictBeta float64
	// Hysteresis is the number of consecutive frames a new cell must be seen
	// before it replaces the committed cell.
	Hysteresis int
	// StabilityWindow is the number of recent samples checked for stability.
	StabilityWindow int
	// StabilityThreshold is the maximum pairwise distance in pixels over the
	// stability window for the pointer to count as stable.
	StabilityThreshold float64
	// DwellDuration is how long a stable pointer must hold a free cell.
	DwellDuration time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Alpha:              0.5,
		Predict:            false,
		PredictAlpha:       0.85,
		PredictBeta:        0.05,
		Hysteresis:         3,
		StabilityWindow:    5,
		StabilityThreshold: 20,
		DwellDuration:      time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = d.Alpha
	}
	if c.Hysteresis < 1 {
		c.Hysteresis = 1
	}
	if c.StabilityWindow < 2 {
		c.StabilityWindow = 2
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = d.StabilityThreshold
	}
	if c.DwellDuration <= 0 {
		c.DwellDuration = d.DwellDuration
	}
	return c
}

// Input is one frame's worth of hand observation.
type Input struct {
	// Present is false when no hand was detected this frame.
	Present bool
	// Pointing reports whether the detected hand holds the pointing pose.
	Pointing bool
	// Tip is the index fingertip in image pixels.
	Tip image.Point
	// At is the capture time of the frame.
	At time.Time
}

// Result is the engine output for one frame.
type Result struct {
	State State
	// Pointer is the smoothed fingertip, nil while idle.
	Pointer *image.Point
	// Cell is the committed cell, nil when the pointer is off the grid.
	Cell *grid.Cell
	// Valid reports whether Cell is free.
	Valid bool
	// Progress is the dwell completion in [0,1].
	Progress float64
	// Confirmed is set on the frame a dwell completes.
	Confirmed *grid.Cell
}

// Engine is the dwell-confirmation state machine.
type Engine struct {
	config   Config
	smoother *smoother
	history  *history

	state         State
	committed     *grid.Cell
	pending       *grid.Cell
	streak        int
	dwellStart    *time.Time
	lastConfirmed *grid.Cell
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(config Config) *Engine {
	config = config.normalized()
	return &Engine{
		config:   config,
		smoother: newSmoother(config),
		history:  newHistory(config.StabilityWindow),
		state:    Idle,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Reset drops all tracking state and returns to Idle.
func (e *Engine) Reset() {
	e.smoother.reset()
	e.history.clear()
	e.state = Idle
	e.committed = nil
	e.pending = nil
	e.streak = 0
	e.dwellStart = nil
	e.lastConfirmed = nil
}

// Process advances the state machine by one frame against g.
func (e *Engine) Process(in Input, g *grid.Grid) Result {
	if !in.Present || !in.Pointing || g == nil {
		e.Reset()
		return Result{State: Idle}
	}

	p := e.smoother.update(Point{X: float64(in.Tip.X), Y: float64(in.Tip.Y)}, in.At)
	e.history.push(Sample{Point: p, At: in.At})

	pointer := image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	res := Result{Pointer: &pointer}

	var candidate *grid.Cell
	if c, ok := g.CellAt(p.X, p.Y); ok {
		candidate = &c
	}
	e.observe(candidate)

	if e.committed == nil {
		e.dwellStart = nil
		e.state = Tracking
		res.State = e.state
		return res
	}

	cell := *e.committed
	res.Cell = &cell
	res.Valid = !g.IsOccupied(cell.Row, cell.Col)

	if !res.Valid || !e.stable() || sameCell(e.lastConfirmed, e.committed) {
		e.dwellStart = nil
		e.state = Tracking
		res.State = e.state
		return res
	}

	if e.dwellStart == nil {
		start := in.At
		e.dwellStart = &start
	}

	elapsed := in.At.Sub(*e.dwellStart)
	res.Progress = math.Min(1, float64(elapsed)/float64(e.config.DwellDuration))
	if elapsed < e.config.DwellDuration {
		e.state = Dwelling
		res.State = e.state
		return res
	}

	e.lastConfirmed = &cell
	e.dwellStart = nil
	e.state = Tracking
	res.State = Confirmed
	res.Confirmed = &cell
	return res
}

// observe applies cell hysteresis to the candidate cell of this frame.
func (e *Engine) observe(candidate *grid.Cell) {
	if sameCell(candidate, e.committed) {
		e.pending = nil
		e.streak = 0
		return
	}

	// first cell after idle or off-grid is taken as is
	if e.committed == nil {
		e.commit(candidate)
		return
	}

	if sameCell(candidate, e.pending) && e.streak > 0 {
		e.streak++
	} else {
		e.pending = candidate
		e.streak = 1
	}

	if e.streak >= e.config.Hysteresis {
		e.commit(e.pending)
	}
}

func (e *Engine) commit(c *grid.Cell) {
	e.committed = c
	e.pending = nil
	e.streak = 0
	e.dwellStart = nil
	e.lastConfirmed = nil
}

func (e *Engine) stable() bool {
	return e.history.len() >= e.config.StabilityWindow &&
		e.history.spread() < e.config.StabilityThreshold
}

func sameCell(a, b *grid.Cell) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
