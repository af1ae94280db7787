package grid

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ScaleMask resizes mask to width x height. A mask that already has the
// requested size is returned unchanged.
func ScaleMask(mask *image.Gray, width, height int) *image.Gray {
	if mask == nil {
		return nil
	}
	if mask.Bounds().Dx() == width && mask.Bounds().Dy() == height {
		return mask
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	return dst
}

// FreeMask returns an all-white mask, where every pixel is free space.
func FreeMask(width, height int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(m, m.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)
	return m
}

// ToGray converts any image into a grayscale mask.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
