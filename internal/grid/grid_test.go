package grid

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillRect(m *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func TestBuild_Dimensions(t *testing.T) {
	tests := []struct {
		name     string
		w, h     int
		cellSize int
		rows     int
		cols     int
	}{
		{"exact fit", 640, 480, 32, 15, 20},
		{"remainder dropped", 650, 485, 30, 16, 21},
		{"single cell", 30, 30, 30, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(FreeMask(tt.w, tt.h), tt.cellSize)
			require.NoError(t, err)
			assert.Equal(t, tt.rows, g.Rows())
			assert.Equal(t, tt.cols, g.Cols())
			assert.Equal(t, 0, g.OccupiedCount())
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(FreeMask(100, 100), 0)
	assert.ErrorIs(t, err, ErrInvalidCellSize)

	_, err = Build(FreeMask(20, 100), 30)
	assert.ErrorIs(t, err, ErrMaskTooSmall)

	_, err = Build(nil, 30)
	assert.ErrorIs(t, err, ErrMaskTooSmall)
}

func TestBuild_OccupancyThreshold(t *testing.T) {
	t.Run("dark cell is occupied", func(t *testing.T) {
		m := FreeMask(60, 30)
		fillRect(m, image.Rect(0, 0, 30, 30), 127)

		g, err := Build(m, 30)
		require.NoError(t, err)
		assert.True(t, g.IsOccupied(0, 0))
		assert.False(t, g.IsOccupied(0, 1))
	})

	t.Run("value at threshold is free", func(t *testing.T) {
		m := FreeMask(30, 30)
		fillRect(m, m.Bounds(), OccupiedThreshold)

		g, err := Build(m, 30)
		require.NoError(t, err)
		assert.False(t, g.IsOccupied(0, 0))
	})

	t.Run("majority of area decides", func(t *testing.T) {
		m := FreeMask(20, 10)
		// left cell: 60% black, right cell: 40% black
		fillRect(m, image.Rect(0, 0, 6, 10), 0)
		fillRect(m, image.Rect(10, 0, 14, 10), 0)

		g, err := Build(m, 10)
		require.NoError(t, err)
		assert.True(t, g.IsOccupied(0, 0))
		assert.False(t, g.IsOccupied(0, 1))
	})

	t.Run("offset mask bounds", func(t *testing.T) {
		m := image.NewGray(image.Rect(100, 100, 130, 130))
		fillRect(m, m.Bounds(), 0)

		g, err := Build(m, 30)
		require.NoError(t, err)
		assert.True(t, g.IsOccupied(0, 0))
	})
}

func TestGrid_CellCenterRoundTrip(t *testing.T) {
	g, err := Build(FreeMask(640, 480), 30)
	require.NoError(t, err)

	for row := 0; row < g.Rows(); row++ {
		for col := 0; col < g.Cols(); col++ {
			p, ok := g.CellCenter(row, col)
			require.True(t, ok)

			c, ok := g.Cell(p.X, p.Y)
			require.True(t, ok)
			assert.Equal(t, Cell{Row: row, Col: col}, c)
		}
	}
}

func TestGrid_CellOutOfBounds(t *testing.T) {
	// 650x485 with 30px cells leaves a remainder strip
	g, err := Build(FreeMask(650, 485), 30)
	require.NoError(t, err)

	tests := []struct {
		name   string
		px, py int
		ok     bool
	}{
		{"origin", 0, 0, true},
		{"negative x", -1, 10, false},
		{"negative y", 10, -1, false},
		{"right remainder", 640, 10, false},
		{"bottom remainder", 10, 482, false},
		{"beyond mask", 700, 500, false},
		{"last covered pixel", 629, 479, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := g.Cell(tt.px, tt.py)
			assert.Equal(t, tt.ok, ok)
		})
	}

	assert.False(t, g.IsOccupied(-1, 0))
	assert.False(t, g.IsOccupied(0, g.Cols()))
	_, ok := g.CellCenter(g.Rows(), 0)
	assert.False(t, ok)
}

func TestScaleMask(t *testing.T) {
	m := FreeMask(320, 240)
	fillRect(m, image.Rect(0, 0, 160, 240), 0)

	scaled := ScaleMask(m, 640, 480)
	assert.Equal(t, 640, scaled.Bounds().Dx())
	assert.Equal(t, 480, scaled.Bounds().Dy())

	g, err := Build(scaled, 40)
	require.NoError(t, err)
	assert.True(t, g.IsOccupied(0, 0))
	assert.False(t, g.IsOccupied(0, g.Cols()-1))

	assert.Same(t, m, ScaleMask(m, 320, 240))
}

func TestGrid_OccupiedRatio(t *testing.T) {
	m := FreeMask(120, 60)
	fillRect(m, image.Rect(0, 0, 60, 30), 0)

	g, err := Build(m, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, g.OccupiedCount())
	assert.InDelta(t, 0.25, g.OccupiedRatio(), 1e-9)

	empty, err := Empty(120, 60, 30)
	require.NoError(t, err)
	assert.Zero(t, empty.OccupiedRatio())
}
