// Package render annotates camera frames and encodes them for the wire.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/ayusman/gridpoint/internal/gesture"
	"github.com/ayusman/gridpoint/internal/grid"
	"gocv.io/x/gocv"
)

// DefaultJPEGQuality is used for streamed frames.
const DefaultJPEGQuality = 80

// Colors in RGB; gocv swaps them into BGR.
var (
	freeColor     = color.RGBA{G: 255, A: 255}
	occupiedColor = color.RGBA{R: 255, A: 255}
	borderColor   = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	dwellColor    = color.RGBA{R: 255, G: 165, A: 255}
	selectedColor = color.RGBA{R: 255, B: 255, A: 255}
)

const (
	gridOpacity   = 0.4
	pointerRadius = 10
	dwellRadius   = 30
)

// Overlay draws the occupancy grid and gesture feedback onto frames. The
// grid layer is cached until the grid or the frame size changes.
type Overlay struct {
	grid     *grid.Grid
	layer    gocv.Mat
	selected *grid.Cell
}

// NewOverlay creates an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{layer: gocv.NewMat()}
}

// Close releases the cached layer.
func (o *Overlay) Close() error {
	return o.layer.Close()
}

// Draw annotates frame in place. A nil grid draws only the pointer.
func (o *Overlay) Draw(frame *gocv.Mat, g *grid.Grid, res gesture.Result) {
	if frame.Empty() {
		return
	}
	if g != nil {
		o.drawGrid(frame, g)
	}
	if res.Confirmed != nil {
		c := *res.Confirmed
		o.selected = &c
	}
	if o.selected != nil && g != nil {
		drawSelected(frame, g, *o.selected)
	}
	if res.Pointer != nil {
		drawPointer(frame, *res.Pointer, res)
	}
}

func (o *Overlay) drawGrid(frame *gocv.Mat, g *grid.Grid) {
	if o.grid != g || o.layer.Rows() != frame.Rows() || o.layer.Cols() != frame.Cols() {
		o.layer.Close()
		o.layer = gridLayer(g, frame.Rows(), frame.Cols(), frame.Type())
		if o.grid != g {
			o.selected = nil
		}
		o.grid = g
	}
	gocv.AddWeighted(*frame, 1.0, o.layer, gridOpacity, 0, frame)
}

func gridLayer(g *grid.Grid, rows, cols int, typ gocv.MatType) gocv.Mat {
	layer := gocv.NewMatWithSize(rows, cols, typ)
	layer.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			b, _ := g.CellBounds(r, c)
			fill := freeColor
			if g.IsOccupied(r, c) {
				fill = occupiedColor
			}
			gocv.Rectangle(&layer, b, fill, -1)
			gocv.Rectangle(&layer, b, borderColor, 1)
		}
	}
	return layer
}

func drawSelected(frame *gocv.Mat, g *grid.Grid, cell grid.Cell) {
	b, ok := g.CellBounds(cell.Row, cell.Col)
	if !ok {
		return
	}
	center, _ := g.CellCenter(cell.Row, cell.Col)
	gocv.Rectangle(frame, b, selectedColor, 2)
	gocv.Circle(frame, center, 5, selectedColor, -1)
}

func drawPointer(frame *gocv.Mat, at image.Point, res gesture.Result) {
	c := occupiedColor
	if res.Valid {
		c = freeColor
	}
	gocv.Circle(frame, at, pointerRadius, c, -1)

	if res.State != gesture.Dwelling {
		return
	}
	gocv.Circle(frame, at, dwellRadius, dwellColor, 2)
	sweep := 360 * math.Min(math.Max(res.Progress, 0), 1)
	if sweep > 0 {
		gocv.Ellipse(frame, at, image.Pt(dwellRadius, dwellRadius), 0, -90, -90+sweep, dwellColor, 3)
	}
}

// EncodeJPEG encodes a frame as JPEG with the given quality.
func EncodeJPEG(frame gocv.Mat, quality int) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty frame")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// EncodePNG encodes a frame or mask as PNG.
func EncodePNG(m gocv.Mat) ([]byte, error) {
	if m.Empty() {
		return nil, fmt.Errorf("encode png: empty image")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
