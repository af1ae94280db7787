package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/gridpoint/internal/capture"
	"github.com/ayusman/gridpoint/internal/detector"
	"github.com/ayusman/gridpoint/internal/gesture"
	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/protocol"
	"github.com/ayusman/gridpoint/internal/render"
	"github.com/ayusman/gridpoint/internal/store"
)

func newLimiter(fps float64) *rate.Limiter {
	if fps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(fps), 1)
}

func cameraFailed(err error) *ResourceError {
	return &ResourceError{Op: "read camera", Code: protocol.CodeCameraFailed, Err: err}
}

// planning streams raw frames until ctx ends or the camera fails.
func (c *Controller) planning(ctx context.Context, sess *capture.Session) error {
	if err := c.sendCameraInfo(sess); err != nil {
		return err
	}
	c.sendStatus(protocol.StatusCameraStarted)

	limiter := newLimiter(c.o.config.PlanningFPS)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := sess.Err(); err != nil {
			return cameraFailed(err)
		}

		frame, ok := sess.Frame()
		if !ok {
			frame.Close()
			continue
		}
		err := c.sendFrame(frame)
		frame.Close()
		if err != nil {
			return err
		}
	}
}

// combat runs the gesture loop: detect, confirm, annotate, send.
func (c *Controller) combat(ctx context.Context, sess *capture.Session) error {
	if err := c.sendCameraInfo(sess); err != nil {
		return err
	}
	c.sendStatus(protocol.StatusCombatStarted)

	res := sess.Resolution()
	g, snap, err := c.combatGrid(res)
	if err != nil {
		return err
	}

	engine := gesture.NewEngine(c.o.config.Gesture)
	overlay := render.NewOverlay()
	defer overlay.Close()
	c.resetGesture.Store(false)

	limiter := newLimiter(c.o.config.CombatFPS)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := sess.Err(); err != nil {
			return cameraFailed(err)
		}
		if c.resetGesture.Swap(false) {
			engine.Reset()
			c.log.Debug().Msg("gesture reset")
		}
		if v := c.o.deps.Masks.Version(); v != snap.Version {
			ng, nsnap, err := c.combatGrid(res)
			if err != nil {
				c.log.Warn().Err(err).Msg("rebuild grid")
			} else {
				g, snap = ng, nsnap
				engine.Reset()
				c.log.Info().Uint64("mask_version", v).Msg("grid rebuilt")
			}
		}

		frame, ok := sess.Frame()
		if !ok {
			frame.Close()
			continue
		}

		result := engine.Process(c.observe(&frame, time.Now()), g)
		overlay.Draw(&frame, g, result)
		err := c.sendFrame(frame)
		frame.Close()
		if err != nil {
			return err
		}
		if err := c.sendGridEvents(g, result, snap.RunID); err != nil {
			return err
		}
	}
}

// combatGrid builds the grid from the latest mask scaled to res, or an
// all-free grid when no mask has been published yet.
func (c *Controller) combatGrid(res capture.Resolution) (*grid.Grid, MaskSnapshot, error) {
	snap := c.o.deps.Masks.Latest()
	if snap.Mask == nil {
		g, err := grid.Empty(res.Width, res.Height, c.o.config.CellSize)
		if err != nil {
			return nil, snap, &PerceptionError{Op: "build grid", Code: protocol.CodeInvalidMask, Err: err}
		}
		return g, snap, nil
	}

	scaled := grid.ScaleMask(snap.Mask, res.Width, res.Height)
	g, err := grid.Build(scaled, c.o.config.CellSize)
	if err != nil {
		return nil, snap, &PerceptionError{Op: "build grid", Code: protocol.CodeInvalidMask, Err: err}
	}
	return g, snap, nil
}

// observe runs hand detection on frame. Detection failures count as no
// hand this frame.
func (c *Controller) observe(frame *gocv.Mat, at time.Time) gesture.Input {
	in := gesture.Input{At: at}

	hands, err := c.o.deps.Hands.Detect(frame)
	if err != nil {
		if m := c.o.deps.Metrics; m != nil {
			m.DetectErrors.Add(1)
		}
		c.log.Debug().Err(err).Msg("hand detection failed")
		return in
	}

	hand, ok := detector.Primary(hands, c.o.config.MinHandScore)
	if !ok {
		return in
	}
	in.Present = true
	in.Pointing = hand.IsPointing()
	in.Tip = hand.Fingertip(frame.Cols(), frame.Rows())
	return in
}

func (c *Controller) sendGridEvents(g *grid.Grid, res gesture.Result, runID string) error {
	if res.Cell != nil {
		center, _ := g.CellCenter(res.Cell.Row, res.Cell.Col)
		pos := protocol.PositionPayload{X: float64(center.X), Y: float64(center.Y), Valid: res.Valid}
		if err := protocol.SendJSON(c.out, protocol.GridPosition, pos); err != nil {
			return err
		}
	}
	if res.Confirmed == nil {
		return nil
	}

	cell := *res.Confirmed
	center, _ := g.CellCenter(cell.Row, cell.Col)
	pos := protocol.PositionPayload{X: float64(center.X), Y: float64(center.Y), Valid: true}
	if err := protocol.SendJSON(c.out, protocol.GridConfirmation, pos); err != nil {
		return err
	}
	c.confirmed(cell, pos, runID)
	return nil
}

func (c *Controller) confirmed(cell grid.Cell, pos protocol.PositionPayload, runID string) {
	c.log.Info().Int("row", cell.Row).Int("col", cell.Col).Msg("cell confirmed")
	if m := c.o.deps.Metrics; m != nil {
		m.Confirmations.Add(1)
	}
	if st := c.o.deps.Store; st != nil {
		sel := &store.Selection{
			ID:           uuid.NewString(),
			ConnectionID: c.id,
			RunID:        runID,
			Row:          cell.Row,
			Col:          cell.Col,
			X:            pos.X,
			Y:            pos.Y,
		}
		if err := st.Selections().Create(sel); err != nil {
			c.log.Warn().Err(err).Msg("save selection")
		}
	}
	c.o.publish(Event{Kind: EventConfirmed, Connection: c.id, Mode: Combat, Cell: &cell})
}

func (c *Controller) sendCameraInfo(sess *capture.Session) error {
	res := sess.Resolution()
	return protocol.SendJSON(c.out, protocol.CameraInfo, protocol.CameraInfoPayload{
		Width:  res.Width,
		Height: res.Height,
	})
}

// sendFrame encodes and sends one frame. Encoding failures drop the frame;
// only write failures are returned.
func (c *Controller) sendFrame(frame gocv.Mat) error {
	m := c.o.deps.Metrics
	data, err := render.EncodeJPEG(frame, c.o.config.JPEGQuality)
	if err != nil {
		if m != nil {
			m.FramesDropped.Add(1)
		}
		c.log.Debug().Err(err).Msg("encode frame")
		return nil
	}
	if err := protocol.SendBytes(c.out, protocol.Frame, data); err != nil {
		if m != nil {
			m.FramesDropped.Add(1)
		}
		return err
	}
	if m != nil {
		m.FrameSent(len(data) + 1)
	}
	return nil
}
