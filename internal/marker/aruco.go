package marker

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// upscale is the resize factor of the second detection pass.
	upscale = 1.5

	cornerRefineSubpix = 1
)

// ArucoDetector finds 4x4 ArUco markers with OpenCV.
type ArucoDetector struct {
	mu       sync.Mutex
	detector gocv.ArucoDetector
	sharpen  gocv.Mat
	retry    bool
}

// NewArucoDetector creates a detector for the DICT_4X4_50 family. When
// nothing is found at native size, the frame is upscaled once and searched
// again, which helps with small or distant markers.
func NewArucoDetector() *ArucoDetector {
	params := gocv.NewArucoDetectorParameters()
	params.SetAdaptiveThreshWinSizeMin(3)
	params.SetAdaptiveThreshWinSizeMax(25)
	params.SetAdaptiveThreshWinSizeStep(8)
	params.SetAdaptiveThreshConstant(7)
	params.SetMinMarkerPerimeterRate(0.02)
	params.SetMaxMarkerPerimeterRate(4.0)
	params.SetPolygonalApproxAccuracyRate(0.03)
	params.SetMinCornerDistanceRate(0.03)
	params.SetMinDistanceToBorder(1)
	params.SetMinMarkerDistanceRate(0.03)
	params.SetCornerRefinementMethod(cornerRefineSubpix)
	params.SetCornerRefinementWinSize(3)
	params.SetCornerRefinementMaxIterations(15)
	params.SetCornerRefinementMinAccuracy(0.05)
	params.SetMarkerBorderBits(1)
	params.SetPerspectiveRemovePixelPerCell(4)
	params.SetPerspectiveRemoveIgnoredMarginPerCell(0.1)
	params.SetMaxErroneousBitsInBorderRate(0.4)
	params.SetMinOtsuStdDev(3.0)
	params.SetErrorCorrectionRate(0.7)

	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_50)

	sharpen := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sharpen.SetFloatAt(r, c, -1)
		}
	}
	sharpen.SetFloatAt(1, 1, 9)

	return &ArucoDetector{
		detector: gocv.NewArucoDetectorWithParams(dict, params),
		sharpen:  sharpen,
		retry:    true,
	}
}

// Detect returns the markers in a BGR frame, ordered as OpenCV reports them.
func (d *ArucoDetector) Detect(frame *gocv.Mat) ([]Marker, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	}

	sharp := gocv.NewMat()
	defer sharp.Close()
	gocv.Filter2D(gray, &sharp, -1, d.sharpen, image.Pt(-1, -1), 0, gocv.BorderDefault)

	corners, ids, _ := d.detector.DetectMarkers(sharp)
	if len(ids) > 0 || !d.retry {
		return toMarkers(corners, ids, 1), nil
	}

	big := gocv.NewMat()
	defer big.Close()
	gocv.Resize(sharp, &big, image.Point{}, upscale, upscale, gocv.InterpolationCubic)

	corners, ids, _ = d.detector.DetectMarkers(big)
	return toMarkers(corners, ids, upscale), nil
}

// Close releases the OpenCV detector.
func (d *ArucoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	d.sharpen.Close()
	return nil
}

func toMarkers(corners [][]gocv.Point2f, ids []int, scale float32) []Marker {
	markers := make([]Marker, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) {
			break
		}
		markers = append(markers, fromCorners(id, corners[i], scale))
	}
	return markers
}
