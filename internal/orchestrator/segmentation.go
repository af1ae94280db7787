package orchestrator

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/marker"
	"github.com/ayusman/gridpoint/internal/planner"
	"github.com/ayusman/gridpoint/internal/protocol"
	"github.com/ayusman/gridpoint/internal/render"
	"github.com/ayusman/gridpoint/internal/segment"
	"github.com/ayusman/gridpoint/internal/store"
)

// Progress checkpoints. Provider progress is mapped into
// [providerStart, providerEnd].
const (
	progressStart   = 5
	progressMarkers = 15
	progressGoal    = 30
	providerStart   = 40
	providerEnd     = 80
	progressPath    = 95
	progressFailed  = 0
)

// segment runs one segmentation to completion. It returns once the camera
// is released and the result has been sent, so the next command never
// overlaps with it.
func (c *Controller) segment(ctx context.Context) {
	c.stop()
	c.setMode(Segmenting)
	defer c.setMode(Idle)

	started := time.Now()
	run := &store.Run{ID: uuid.NewString(), Scene: c.Scene(), GoalRow: -1, GoalCol: -1}
	err := c.runSegmentation(ctx, run)
	elapsed := time.Since(started)

	var planErr *PlanningError
	switch {
	case err == nil:
		run.Status = store.RunOK
	case errors.As(err, &planErr):
		run.Status = store.RunNoPath
	default:
		run.Status = store.RunFailed
	}
	if err != nil {
		run.Error = err.Error()
	}
	run.DurationMs = elapsed.Milliseconds()
	c.record(run, elapsed)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.sendProgress("error", progressFailed)
		c.fail(err)
		return
	}
	c.sendStatus(protocol.StatusSegmentationDone)
}

func (c *Controller) record(run *store.Run, elapsed time.Duration) {
	if m := c.o.deps.Metrics; m != nil {
		m.Segmentation(string(run.Status), elapsed)
	}
	if st := c.o.deps.Store; st != nil {
		if err := st.Runs().Create(run); err != nil {
			c.log.Warn().Err(err).Msg("save segmentation run")
		}
	}
	c.log.Info().
		Str("run", run.ID).
		Str("status", string(run.Status)).
		Int("markers", run.Markers).
		Float64("obstacles", run.ObstacleRatio).
		Int("path", run.PathLen).
		Dur("took", elapsed).
		Msg("segmentation finished")
}

func (c *Controller) runSegmentation(ctx context.Context, run *store.Run) error {
	c.sendProgress("start", progressStart)

	sess, err := c.acquire(ctx, Segmenting)
	if err != nil {
		return err
	}
	defer c.o.deps.Camera.Release(sess)

	wctx, cancel := context.WithTimeout(ctx, c.o.config.FirstFrameTimeout)
	frame, err := sess.WaitFrame(wctx)
	cancel()
	if err != nil {
		frame.Close()
		return &ResourceError{Op: "wait for frame", Code: protocol.CodeNoFrame, Err: err}
	}
	defer frame.Close()
	// One frame is all segmentation needs.
	c.o.deps.Camera.Release(sess)
	run.Width, run.Height = frame.Cols(), frame.Rows()

	c.sendProgress("markers", progressMarkers)
	markers, err := c.o.deps.Markers.Detect(&frame)
	if err != nil {
		if m := c.o.deps.Metrics; m != nil {
			m.DetectErrors.Add(1)
		}
		c.log.Warn().Err(err).Msg("marker detection failed")
		markers = nil
	}
	run.Markers = len(markers)
	c.sendProgress("goal", progressGoal)

	c.sendProgress("segmentation", providerStart)
	points := make([]image.Point, len(markers))
	for i, m := range markers {
		points[i] = m.Center
	}
	mask, err := c.callProvider(ctx, frame, points)
	if err != nil {
		return &PerceptionError{Op: "segment", Code: protocol.CodeSegmentationFailed, Err: err}
	}
	defer mask.Close()

	segment.ClearMarkers(&mask, marker.Polygons(markers))
	segment.Clean(&mask)
	run.ObstacleRatio = segment.ObstacleRatio(mask)
	if err := segment.Validate(mask); err != nil {
		if !errors.Is(err, segment.ErrMaskSparse) {
			return &PerceptionError{Op: "validate mask", Code: protocol.CodeInvalidMask, Err: err}
		}
		c.log.Warn().Err(err).Msg("accepting sparse mask")
	}

	gray, err := segment.ToGray(mask)
	if err != nil {
		return &PerceptionError{Op: "convert mask", Code: protocol.CodeInvalidMask, Err: err}
	}
	png, err := render.EncodePNG(mask)
	if err != nil {
		return &PerceptionError{Op: "encode mask", Code: protocol.CodeInvalidMask, Err: err}
	}
	c.o.deps.Masks.Publish(gray, run.ID)

	c.sendProgress("mask", providerEnd)
	if err := protocol.SendBytes(c.out, protocol.Mask, png); err != nil {
		return err
	}

	g, err := grid.Build(gray, c.o.config.CellSize)
	if err != nil {
		return &PerceptionError{Op: "build grid", Code: protocol.CodeInvalidMask, Err: err}
	}
	goal := c.goal(g, markers)
	run.GoalRow, run.GoalCol = goal.Row, goal.Col
	c.log.Info().
		Float64("obstacle_ratio", run.ObstacleRatio).
		Float64("occupied_cells", g.OccupiedRatio()).
		Int("rows", g.Rows()).
		Int("cols", g.Cols()).
		Msg("grid built")

	path, err := planner.FindPath(g, &goal)
	if err != nil {
		return &PlanningError{Err: err}
	}
	run.PathLen = len(path)

	c.sendProgress("path", progressPath)
	waypoints := make([]protocol.PathPoint, len(path))
	for i, w := range path {
		waypoints[i] = protocol.PathPoint{X: w.X, Y: w.Y}
	}
	return protocol.SendJSON(c.out, protocol.Path, waypoints)
}

// goal is the cell under the first marker, or the default goal.
func (c *Controller) goal(g *grid.Grid, markers []marker.Marker) grid.Cell {
	if len(markers) > 0 {
		if cell, ok := planner.GoalFromPixel(g, markers[0].Center); ok {
			return *cell
		}
		c.log.Debug().Int("marker", markers[0].ID).Msg("marker outside grid, using default goal")
	}
	return planner.DefaultGoal(g)
}

// callProvider runs the segmentation provider next to a goroutine that
// forwards its progress to the client.
func (c *Controller) callProvider(ctx context.Context, frame gocv.Mat, points []image.Point) (gocv.Mat, error) {
	updates := make(chan segment.Progress, 8)
	req := segment.Request{Frame: frame, Scene: c.Scene(), Points: points}

	var mask gocv.Mat
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(updates)
		m, err := c.o.deps.Segmenter.Segment(ectx, req, func(p segment.Progress) {
			select {
			case updates <- p:
			case <-ectx.Done():
			}
		})
		if err != nil {
			m.Close()
			return err
		}
		mask = m
		return nil
	})
	eg.Go(func() error {
		for p := range updates {
			c.sendProgress(p.Step, providerProgress(p.Percent))
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return gocv.NewMat(), err
	}
	return mask, nil
}

// providerProgress maps a provider percentage into the provider band.
func providerProgress(p int) int {
	p = min(max(p, 0), 100)
	return providerStart + p*(providerEnd-providerStart)/100
}
