// Package orchestrator runs the per-connection mode state machine.
//
// A connection is always in exactly one of four modes: idle, planning
// (camera frames streamed to the client), segmenting (one-shot mask and
// path computation) and combat (gesture loop). Every mode switch cancels the
// running task and waits for it to release the camera before the next mode
// starts, so the camera is never held by two modes at once.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/gridpoint/internal/capture"
	"github.com/ayusman/gridpoint/internal/detector"
	"github.com/ayusman/gridpoint/internal/gesture"
	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/marker"
	"github.com/ayusman/gridpoint/internal/metrics"
	"github.com/ayusman/gridpoint/internal/protocol"
	"github.com/ayusman/gridpoint/internal/render"
	"github.com/ayusman/gridpoint/internal/segment"
	"github.com/ayusman/gridpoint/internal/store"
)

// Config tunes the mode loops.
type Config struct {
	CellSize    int
	PlanningFPS float64
	CombatFPS   float64
	JPEGQuality int
	// FirstFrameTimeout bounds the wait for the first frame when
	// segmentation opens the camera.
	FirstFrameTimeout time.Duration
	// Scene is the default segmentation scene hint.
	Scene        string
	MinHandScore float64
	Gesture      gesture.Config
}

// DefaultConfig returns the default mode loop settings.
func DefaultConfig() Config {
	return Config{
		CellSize:          grid.DefaultCellSize,
		PlanningFPS:       30,
		CombatFPS:         30,
		JPEGQuality:       render.DefaultJPEGQuality,
		FirstFrameTimeout: 5 * time.Second,
		Scene:             segment.SceneWall,
		MinHandScore:      0.5,
		Gesture:           gesture.DefaultConfig(),
	}
}

// Deps are the collaborators shared by all connections. Store and Metrics
// are optional.
type Deps struct {
	Camera    *capture.Manager
	Hands     detector.Detector
	Markers   marker.Detector
	Segmenter segment.Provider
	Masks     *MaskStore
	Store     *store.Store
	Metrics   *metrics.Metrics
}

// EventKind identifies an orchestrator event.
type EventKind string

// Event kinds.
const (
	EventMode      EventKind = "mode"
	EventConfirmed EventKind = "confirmed"
)

// Event is published on mode changes and confirmations.
type Event struct {
	Kind       EventKind
	Connection string
	Mode       Mode
	Cell       *grid.Cell
	At         time.Time
}

// Status summarizes the orchestrator for the status endpoint.
type Status struct {
	Connections int               `json:"connections"`
	Modes       map[string]string `json:"modes"`
	Camera      capture.Stats     `json:"camera"`
	MaskVersion uint64            `json:"mask_version"`
}

// Orchestrator creates controllers and tracks the live ones.
type Orchestrator struct {
	config Config
	deps   Deps
	log    zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
	subscribers []func(Event)
}

// New creates an Orchestrator. Camera, Hands, Markers and Segmenter are
// required; a nil Masks gets an in-memory store.
func New(config Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Camera == nil:
		return nil, errors.New("orchestrator: camera manager is required")
	case deps.Hands == nil:
		return nil, errors.New("orchestrator: hand detector is required")
	case deps.Markers == nil:
		return nil, errors.New("orchestrator: marker detector is required")
	case deps.Segmenter == nil:
		return nil, errors.New("orchestrator: segmentation provider is required")
	}
	if deps.Masks == nil {
		deps.Masks = NewMaskStore("")
	}
	if config.CellSize <= 0 {
		config.CellSize = grid.DefaultCellSize
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = render.DefaultJPEGQuality
	}

	return &Orchestrator{
		config:      config,
		deps:        deps,
		log:         log.With().Str("component", "orchestrator").Logger(),
		controllers: make(map[string]*Controller),
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Masks returns the shared mask store.
func (o *Orchestrator) Masks() *MaskStore {
	return o.deps.Masks
}

// Subscribe registers fn for every future event. fn is called from
// controller goroutines and must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

func (o *Orchestrator) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	o.mu.Lock()
	subs := make([]func(Event), len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// NewController creates a controller for connection id writing to out.
func (o *Orchestrator) NewController(id string, out protocol.Sender) *Controller {
	c := newController(o, id, out)
	o.mu.Lock()
	o.controllers[id] = c
	o.mu.Unlock()
	return c
}

func (o *Orchestrator) remove(id string) {
	o.mu.Lock()
	delete(o.controllers, id)
	o.mu.Unlock()
}

// Serve runs a controller for one connection until commands is closed or
// ctx ends. The camera is released before Serve returns.
func (o *Orchestrator) Serve(ctx context.Context, id string, out protocol.Sender, commands <-chan string) error {
	c := o.NewController(id, out)
	defer o.remove(id)
	return c.Run(ctx, commands)
}

// Status returns a snapshot of all connections.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	modes := make(map[string]string, len(o.controllers))
	for id, c := range o.controllers {
		modes[id] = c.Mode().String()
	}
	o.mu.Unlock()

	return Status{
		Connections: len(modes),
		Modes:       modes,
		Camera:      o.deps.Camera.Stats(),
		MaskVersion: o.deps.Masks.Version(),
	}
}
