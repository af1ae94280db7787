// Package grid provides the coarse occupancy grid derived from an obstacle mask.
//
// A Grid is immutable once built. A new mask always produces a new Grid, so a
// goroutine holding an older Grid keeps a consistent view until it re-reads.
package grid

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Grid defaults.
const (
	// DefaultCellSize is the edge length of a cell in pixels.
	DefaultCellSize = 30
	// OccupiedThreshold is the mean mask value below which a cell counts as
	// an obstacle. Dark mask pixels are obstacles, so a cell is occupied when
	// the majority of its area is dark.
	OccupiedThreshold = 128
)

var (
	// ErrInvalidCellSize is returned when the cell size is not positive.
	ErrInvalidCellSize = errors.New("cell size must be positive")
	// ErrMaskTooSmall is returned when the mask cannot hold a single cell.
	ErrMaskTooSmall = errors.New("mask smaller than one cell")
)

// Cell addresses one grid cell.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// Grid is a boolean occupancy matrix over an image.
type Grid struct {
	cellSize int
	rows     int
	cols     int
	width    int
	height   int
	occupied []bool
	bounds   []image.Rectangle
	centers  []image.Point
}

// Build derives a grid from mask. Rows and columns are the integer quotient
// of the mask size by cellSize; remainder pixels on the right and bottom edge
// belong to no cell.
func Build(mask *image.Gray, cellSize int) (*Grid, error) {
	if cellSize <= 0 {
		return nil, ErrInvalidCellSize
	}
	if mask == nil {
		return nil, ErrMaskTooSmall
	}

	r := mask.Bounds()
	g, err := newGrid(r.Dx(), r.Dy(), cellSize)
	if err != nil {
		return nil, err
	}

	area := cellSize * cellSize
	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			b := g.bounds[g.index(row, col)]
			sum := 0
			for y := b.Min.Y; y < b.Max.Y; y++ {
				off := mask.PixOffset(r.Min.X+b.Min.X, r.Min.Y+y)
				for _, v := range mask.Pix[off : off+cellSize] {
					sum += int(v)
				}
			}
			g.occupied[g.index(row, col)] = sum < OccupiedThreshold*area
		}
	}

	return g, nil
}

// Empty returns a grid of the given pixel size where every cell is free.
func Empty(width, height, cellSize int) (*Grid, error) {
	if cellSize <= 0 {
		return nil, ErrInvalidCellSize
	}
	return newGrid(width, height, cellSize)
}

func newGrid(width, height, cellSize int) (*Grid, error) {
	rows := height / cellSize
	cols := width / cellSize
	if rows == 0 || cols == 0 {
		return nil, ErrMaskTooSmall
	}

	g := &Grid{
		cellSize: cellSize,
		rows:     rows,
		cols:     cols,
		width:    width,
		height:   height,
		occupied: make([]bool, rows*cols),
		bounds:   make([]image.Rectangle, rows*cols),
		centers:  make([]image.Point, rows*cols),
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			i := g.index(row, col)
			g.bounds[i] = image.Rect(col*cellSize, row*cellSize, (col+1)*cellSize, (row+1)*cellSize)
			g.centers[i] = image.Pt(col*cellSize+cellSize/2, row*cellSize+cellSize/2)
		}
	}

	return g, nil
}

func (g *Grid) index(row, col int) int {
	return row*g.cols + col
}

// Rows returns the number of grid rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of grid columns.
func (g *Grid) Cols() int { return g.cols }

// CellSize returns the cell edge length in pixels.
func (g *Grid) CellSize() int { return g.cellSize }

// Width returns the pixel width of the source mask.
func (g *Grid) Width() int { return g.width }

// Height returns the pixel height of the source mask.
func (g *Grid) Height() int { return g.height }

// InBounds reports whether (row, col) addresses a cell of the grid.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.rows && col >= 0 && col < g.cols
}

// Cell maps a pixel to its cell. Pixels outside the mask, or in the remainder
// strip that no cell covers, report false.
func (g *Grid) Cell(px, py int) (Cell, bool) {
	if px < 0 || py < 0 {
		return Cell{}, false
	}
	c := Cell{Row: py / g.cellSize, Col: px / g.cellSize}
	if !g.InBounds(c.Row, c.Col) {
		return Cell{}, false
	}
	return c, true
}

// CellAt is Cell for sub-pixel positions.
func (g *Grid) CellAt(x, y float64) (Cell, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 {
		return Cell{}, false
	}
	return g.Cell(int(x), int(y))
}

// IsOccupied reports whether the cell is an obstacle. Out of range cells are
// reported as free; callers that care use InBounds first.
func (g *Grid) IsOccupied(row, col int) bool {
	if !g.InBounds(row, col) {
		return false
	}
	return g.occupied[g.index(row, col)]
}

// CellCenter returns the center pixel of the cell.
func (g *Grid) CellCenter(row, col int) (image.Point, bool) {
	if !g.InBounds(row, col) {
		return image.Point{}, false
	}
	return g.centers[g.index(row, col)], true
}

// CellBounds returns the pixel rectangle covered by the cell.
func (g *Grid) CellBounds(row, col int) (image.Rectangle, bool) {
	if !g.InBounds(row, col) {
		return image.Rectangle{}, false
	}
	return g.bounds[g.index(row, col)], true
}

// OccupiedCount returns the number of occupied cells.
func (g *Grid) OccupiedCount() int {
	n := 0
	for _, o := range g.occupied {
		if o {
			n++
		}
	}
	return n
}

// OccupiedRatio returns the fraction of cells that are occupied.
func (g *Grid) OccupiedRatio() float64 {
	return float64(g.OccupiedCount()) / float64(len(g.occupied))
}
