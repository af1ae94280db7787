package segment

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Obstacle ratio band outside of which a mask is rejected.
const (
	MinObstacleRatio = 0.05
	MaxObstacleRatio = 0.85
)

var (
	free     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	obstacle = color.RGBA{}
)

// Clean removes speckle noise and closes small holes.
func Clean(mask *gocv.Mat) {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	gocv.MorphologyEx(*mask, mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(*mask, mask, gocv.MorphClose, kernel)
}

// ObstacleRatio returns the fraction of pixels darker than 128.
func ObstacleRatio(mask gocv.Mat) float64 {
	data := mask.ToBytes()
	if len(data) == 0 {
		return 0
	}
	dark := 0
	for _, v := range data {
		if v < 128 {
			dark++
		}
	}
	return float64(dark) / float64(len(data))
}

// Validate checks the type and obstacle ratio of a mask.
func Validate(mask gocv.Mat) error {
	if mask.Empty() {
		return fmt.Errorf("%w: empty", ErrInvalidMask)
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return fmt.Errorf("%w: want 8-bit single channel, got %v", ErrInvalidMask, mask.Type())
	}
	ratio := ObstacleRatio(mask)
	switch {
	case ratio < MinObstacleRatio:
		return fmt.Errorf("%w (ratio %.2f < %.2f)", ErrMaskSparse, ratio, MinObstacleRatio)
	case ratio > MaxObstacleRatio:
		return fmt.Errorf("%w (ratio %.2f > %.2f)", ErrMaskDense, ratio, MaxObstacleRatio)
	}
	return nil
}

// ClearMarkers paints each polygon free so the marker under the goal never
// counts as an obstacle.
func ClearMarkers(mask *gocv.Mat, polygons [][]image.Point) {
	if len(polygons) == 0 {
		return
	}
	pv := gocv.NewPointsVectorFromPoints(polygons)
	defer pv.Close()
	gocv.FillPoly(mask, pv, free)
}

// ToGray copies a single channel Mat into an image.Gray.
func ToGray(mask gocv.Mat) (*image.Gray, error) {
	if mask.Empty() {
		return nil, fmt.Errorf("%w: empty", ErrInvalidMask)
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("%w: want 8-bit single channel, got %v", ErrInvalidMask, mask.Type())
	}
	w, h := mask.Cols(), mask.Rows()
	data := mask.ToBytes()
	if len(data) != w*h {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrInvalidMask, len(data), w, h)
	}
	return &image.Gray{Pix: data, Stride: w, Rect: image.Rect(0, 0, w, h)}, nil
}

// FromGray copies an image.Gray into a new single channel Mat.
func FromGray(img *image.Gray) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		data = append(data, img.Pix[off:off+w]...)
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, data)
}
