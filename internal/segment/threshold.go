package segment

import (
	"context"
	"image"
	"strings"

	"gocv.io/x/gocv"
)

// Contour area limits of the threshold provider.
const (
	minContourPixels = 50
	minContourRatio  = 0.0005
	maxContourRatio  = 0.20
	// wallForegroundLimit is the foreground share above which Otsu has
	// mistaken a bare wall for an object.
	wallForegroundLimit = 0.70
)

// ThresholdProvider segments locally with classic thresholding. Tables use
// adaptive thresholding; walls use contrast equalization and Otsu.
type ThresholdProvider struct{}

// NewThresholdProvider creates a ThresholdProvider.
func NewThresholdProvider() *ThresholdProvider {
	return &ThresholdProvider{}
}

// Segment implements Provider.
func (p *ThresholdProvider) Segment(ctx context.Context, req Request, progress ProgressFunc) (gocv.Mat, error) {
	if req.Frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return gocv.NewMat(), err
	}

	h, w := req.Frame.Rows(), req.Frame.Cols()
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), h, w, gocv.MatTypeCV8UC1)

	gray := gocv.NewMat()
	defer gray.Close()
	if req.Frame.Channels() == 1 {
		req.Frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(req.Frame, &gray, gocv.ColorBGRToGray)
	}

	binary := gocv.NewMat()
	defer binary.Close()

	table := strings.EqualFold(req.Scene, SceneTable)
	if table {
		gocv.AdaptiveThreshold(gray, &binary, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, 11, 2)
	} else {
		clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
		equalized := gocv.NewMat()
		clahe.Apply(gray, &equalized)
		gocv.Threshold(equalized, &binary, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
		equalized.Close()
		clahe.Close()
	}
	report(progress, "threshold", 50)

	open := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer open.Close()
	closeKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer closeKernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphOpen, open)
	gocv.MorphologyEx(binary, &binary, gocv.MorphClose, closeKernel)
	gocv.MorphologyEx(binary, &binary, gocv.MorphClose, closeKernel)

	if !table && 1-ObstacleRatio(binary) > wallForegroundLimit {
		return mask, nil
	}

	total := float64(h * w)
	minArea := max(float64(minContourPixels), minContourRatio*total)
	maxArea := maxContourRatio * total

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > minArea && area < maxArea {
			gocv.DrawContours(&mask, contours, i, obstacle, -1)
		}
	}
	report(progress, "contours", 90)

	return mask, nil
}
