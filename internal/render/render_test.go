package render

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/gridpoint/internal/gesture"
	"github.com/ayusman/gridpoint/internal/grid"
)

func blackFrame(t *testing.T, w, h int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// bgr returns the blue, green and red values at a pixel.
func bgr(m gocv.Mat, x, y int) (uint8, uint8, uint8) {
	return m.GetUCharAt(y, x*3), m.GetUCharAt(y, x*3+1), m.GetUCharAt(y, x*3+2)
}

// halfBlocked is a 60x30 grid of 30px cells whose right cell is occupied.
func halfBlocked(t *testing.T) *grid.Grid {
	t.Helper()
	mask := grid.FreeMask(60, 30)
	for y := 0; y < 30; y++ {
		for x := 30; x < 60; x++ {
			mask.SetGray(x, y, color.Gray{})
		}
	}
	g, err := grid.Build(mask, 30)
	require.NoError(t, err)
	return g
}

func TestOverlay_GridColors(t *testing.T) {
	g := halfBlocked(t)
	frame := blackFrame(t, 60, 30)

	o := NewOverlay()
	defer o.Close()
	o.Draw(&frame, g, gesture.Result{})

	b, gr, r := bgr(frame, 15, 15)
	assert.Zero(t, b)
	assert.Greater(t, gr, uint8(50), "free cell is tinted green")
	assert.Zero(t, r)

	b, gr, r = bgr(frame, 45, 15)
	assert.Zero(t, b)
	assert.Zero(t, gr)
	assert.Greater(t, r, uint8(50), "occupied cell is tinted red")
}

func TestOverlay_Pointer(t *testing.T) {
	frame := blackFrame(t, 100, 100)
	pt := image.Pt(50, 50)

	o := NewOverlay()
	defer o.Close()
	o.Draw(&frame, nil, gesture.Result{State: gesture.Tracking, Pointer: &pt, Valid: true})

	_, gr, r := bgr(frame, 50, 50)
	assert.Equal(t, uint8(255), gr)
	assert.Zero(t, r)

	frame2 := blackFrame(t, 100, 100)
	o.Draw(&frame2, nil, gesture.Result{State: gesture.Tracking, Pointer: &pt})
	_, gr, r = bgr(frame2, 50, 50)
	assert.Zero(t, gr)
	assert.Equal(t, uint8(255), r, "invalid cell draws a red pointer")
}

func TestOverlay_DwellArc(t *testing.T) {
	frame := blackFrame(t, 100, 100)
	pt := image.Pt(50, 50)

	o := NewOverlay()
	defer o.Close()
	o.Draw(&frame, nil, gesture.Result{State: gesture.Dwelling, Pointer: &pt, Valid: true, Progress: 0.5})

	// the ring sits dwellRadius above the pointer
	b, gr, r := bgr(frame, 50, 50-dwellRadius)
	assert.Zero(t, b)
	assert.Greater(t, r, uint8(200))
	assert.Greater(t, gr, uint8(100))
}

func TestOverlay_SelectedPersists(t *testing.T) {
	g := halfBlocked(t)
	o := NewOverlay()
	defer o.Close()

	cell := grid.Cell{Row: 0, Col: 0}
	frame := blackFrame(t, 60, 30)
	o.Draw(&frame, g, gesture.Result{Confirmed: &cell})

	next := blackFrame(t, 60, 30)
	o.Draw(&next, g, gesture.Result{})
	b, _, r := bgr(next, 15, 15)
	assert.Equal(t, uint8(255), b, "selection marker drawn in magenta")
	assert.Equal(t, uint8(255), r)

	other := halfBlocked(t)
	reset := blackFrame(t, 60, 30)
	o.Draw(&reset, other, gesture.Result{})
	b, _, _ = bgr(reset, 15, 15)
	assert.Zero(t, b, "a new grid clears the selection")
}

func TestOverlay_EmptyFrame(t *testing.T) {
	o := NewOverlay()
	defer o.Close()
	empty := gocv.NewMat()
	defer empty.Close()
	pt := image.Pt(1, 1)
	o.Draw(&empty, nil, gesture.Result{Pointer: &pt})
	assert.True(t, empty.Empty())
}

func TestEncode(t *testing.T) {
	frame := blackFrame(t, 32, 16)

	jpeg, err := EncodeJPEG(frame, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(jpeg, []byte{0xFF, 0xD8}), "JPEG SOI marker")

	png, err := EncodePNG(frame)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, err = EncodeJPEG(gocv.NewMat(), 80)
	assert.Error(t, err)
	_, err = EncodePNG(gocv.NewMat())
	assert.Error(t, err)
}
