package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ayusman/gridpoint/internal/capture"
	"github.com/ayusman/gridpoint/internal/protocol"
	"github.com/ayusman/gridpoint/internal/segment"
	"github.com/ayusman/gridpoint/internal/store"
)

// Mode is the state of one connection.
type Mode int

const (
	Idle Mode = iota
	Planning
	Segmenting
	Combat
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Segmenting:
		return "segmenting"
	case Combat:
		return "combat"
	default:
		return "unknown"
	}
}

// sceneSetting is the settings key holding the last scene hint.
const sceneSetting = "scene"

// task is a running mode loop. done is closed after the loop has released
// the camera.
type task struct {
	mode   Mode
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller drives the modes of one connection. Commands are handled one
// at a time; Handle returns only after the transition it starts is in
// place.
type Controller struct {
	o   *Orchestrator
	id  string
	out protocol.Sender
	log zerolog.Logger

	resetGesture atomic.Bool

	mu    sync.Mutex
	mode  Mode
	scene string
	task  *task
}

func newController(o *Orchestrator, id string, out protocol.Sender) *Controller {
	c := &Controller{
		o:     o,
		id:    id,
		out:   out,
		log:   o.log.With().Str("conn", id).Logger(),
		scene: o.config.Scene,
	}
	if o.deps.Store != nil {
		scene, err := o.deps.Store.Settings().Get(sceneSetting)
		switch {
		case err == nil && (scene == segment.SceneWall || scene == segment.SceneTable):
			c.scene = scene
		case err != nil && !errors.Is(err, store.ErrNotFound):
			c.log.Warn().Err(err).Msg("load scene setting")
		}
	}
	return c
}

// ID returns the connection id.
func (c *Controller) ID() string {
	return c.id
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Scene returns the scene hint used for segmentation.
func (c *Controller) Scene() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scene
}

// Run handles commands until the channel is closed or ctx ends, then tears
// down the running mode. A disconnect takes the same path as a stop
// command.
func (c *Controller) Run(ctx context.Context, commands <-chan string) error {
	c.log.Info().Msg("connection opened")
	if m := c.o.deps.Metrics; m != nil {
		m.EnterMode("", Idle.String())
	}
	defer func() {
		c.stop()
		if m := c.o.deps.Metrics; m != nil {
			m.EnterMode(c.Mode().String(), "")
		}
		c.log.Info().Msg("connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-commands:
			if !ok {
				return nil
			}
			c.Handle(ctx, raw)
		}
	}
}

// Handle executes one text command.
func (c *Controller) Handle(ctx context.Context, raw string) {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		perr := &ProtocolError{Raw: raw, Code: protocol.CodeUnknownCommand, Err: err}
		c.log.Warn().Err(perr).Str("command", raw).Msg("command rejected")
		c.sendError(perr)
		return
	}
	if m := c.o.deps.Metrics; m != nil {
		m.Command(string(cmd.Kind))
	}

	mode := c.Mode()
	c.log.Debug().Str("command", string(cmd.Kind)).Stringer("mode", mode).Msg("command")

	switch cmd.Kind {
	case protocol.StartCamera:
		if mode == Combat || mode == Planning {
			return
		}
		c.startPlanning(ctx)

	case protocol.StopCamera:
		if mode == Combat {
			return
		}
		c.stop()
		c.sendStatus(protocol.StatusCameraStopped)

	case protocol.ProcessSegmentation:
		if mode == Combat {
			c.sendError(&ProtocolError{
				Raw:  raw,
				Code: protocol.CodeModeConflict,
				Err:  errors.New("segmentation is unavailable during combat"),
			})
			return
		}
		c.segment(ctx)

	case protocol.StartCombat:
		if mode == Combat {
			return
		}
		c.startCombat(ctx)

	case protocol.StopCombat:
		if mode != Combat {
			return
		}
		c.stop()
		c.sendStatus(protocol.StatusCombatStopped)

	case protocol.ResetGesture:
		c.resetGesture.Store(true)

	case protocol.SetScene:
		c.setScene(cmd.Arg)
	}
}

func (c *Controller) setScene(scene string) {
	c.mu.Lock()
	c.scene = scene
	c.mu.Unlock()

	if c.o.deps.Store != nil {
		if err := c.o.deps.Store.Settings().Set(sceneSetting, scene); err != nil {
			c.log.Warn().Err(err).Msg("save scene setting")
		}
	}
	c.log.Info().Str("scene", scene).Msg("scene changed")
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	prev := c.mode
	c.mode = m
	c.mu.Unlock()
	if prev == m {
		return
	}

	if mt := c.o.deps.Metrics; mt != nil {
		mt.EnterMode(prev.String(), m.String())
	}
	c.log.Info().Stringer("from", prev).Stringer("to", m).Msg("mode changed")
	c.o.publish(Event{Kind: EventMode, Connection: c.id, Mode: m})
}

func (c *Controller) acquire(ctx context.Context, mode Mode) (*capture.Session, error) {
	sess, err := c.o.deps.Camera.Acquire(ctx, c.id+"/"+mode.String())
	if err != nil {
		return nil, acquireError(err)
	}
	return sess, nil
}

// start runs loop as the current task. The previous task must already be
// stopped. The camera session is released when the loop returns, before
// a failure is reported and before the task is marked done.
func (c *Controller) start(ctx context.Context, mode Mode, sess *capture.Session, loop func(context.Context, *capture.Session) error) {
	tctx, cancel := context.WithCancel(ctx)
	t := &task{mode: mode, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.task = t
	c.mu.Unlock()
	c.setMode(mode)

	go func() {
		defer close(t.done)
		defer c.finish(t)
		defer c.o.deps.Camera.Release(sess)

		if err := loop(tctx, sess); err != nil && tctx.Err() == nil {
			c.o.deps.Camera.Release(sess)
			c.fail(err)
		}
	}()
}

// finish returns to Idle if t ended on its own.
func (c *Controller) finish(t *task) {
	t.cancel()
	c.mu.Lock()
	current := c.task == t
	if current {
		c.task = nil
	}
	c.mu.Unlock()
	if current {
		c.setMode(Idle)
	}
}

// stop cancels the running task and waits until it has released the
// camera.
func (c *Controller) stop() {
	c.mu.Lock()
	t := c.task
	c.mu.Unlock()
	if t == nil {
		return
	}

	t.cancel()
	<-t.done
	c.log.Debug().Stringer("mode", t.mode).Msg("task stopped")
}

func (c *Controller) startPlanning(ctx context.Context) {
	c.stop()
	sess, err := c.acquire(ctx, Planning)
	if err != nil {
		c.fail(err)
		return
	}
	c.start(ctx, Planning, sess, c.planning)
}

func (c *Controller) startCombat(ctx context.Context) {
	c.stop()
	sess, err := c.acquire(ctx, Combat)
	if err != nil {
		c.fail(err)
		return
	}
	c.start(ctx, Combat, sess, c.combat)
}

// fail reports err to the client. Resource errors are preceded by a
// camera_unavailable status.
func (c *Controller) fail(err error) {
	var re *ResourceError
	if errors.As(err, &re) {
		c.log.Error().Err(err).Str("code", re.Code).Msg("camera error")
		c.sendStatus(protocol.StatusCameraUnavailable)
	} else {
		c.log.Warn().Err(err).Msg("mode failed")
	}
	c.sendError(err)
}

func (c *Controller) sendError(err error) {
	if serr := protocol.SendError(c.out, errorCode(err), err); serr != nil {
		c.log.Debug().Err(serr).Msg("send error")
	}
}

func (c *Controller) sendStatus(status string) {
	if err := protocol.SendStatus(c.out, status); err != nil {
		c.log.Debug().Err(err).Msg("send status")
	}
}

func (c *Controller) sendProgress(step string, progress int) {
	if err := protocol.SendProgress(c.out, step, progress); err != nil {
		c.log.Debug().Err(err).Msg("send progress")
	}
}
