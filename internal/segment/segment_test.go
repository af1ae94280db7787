package segment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func grayMat(t *testing.T, w, h int, v uint8) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(v), 0, 0, 0), h, w, gocv.MatTypeCV8UC1)
	t.Cleanup(func() { m.Close() })
	return m
}

// sceneFrame is a bright BGR frame with one dark square.
func sceneFrame(t *testing.T, w, h int, square image.Rectangle) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(230, 230, 230, 0), h, w, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&m, square, color.RGBA{A: 255}, -1)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestObstacleRatioAndValidate(t *testing.T) {
	freeMask := grayMat(t, 100, 100, 255)
	assert.Zero(t, ObstacleRatio(freeMask))
	assert.ErrorIs(t, Validate(freeMask), ErrInvalidMask, "all free is outside the band")
	assert.ErrorIs(t, Validate(freeMask), ErrMaskSparse)

	blocked := grayMat(t, 100, 100, 0)
	assert.Equal(t, 1.0, ObstacleRatio(blocked))
	assert.ErrorIs(t, Validate(blocked), ErrMaskDense)
	assert.NotErrorIs(t, Validate(blocked), ErrMaskSparse)

	mixed := grayMat(t, 100, 100, 255)
	gocv.Rectangle(&mixed, image.Rect(0, 0, 100, 30), color.RGBA{A: 255}, -1)
	assert.InDelta(t, 0.30, ObstacleRatio(mixed), 0.01)
	assert.NoError(t, Validate(mixed))

	bgr := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer bgr.Close()
	assert.ErrorIs(t, Validate(bgr), ErrInvalidMask)
	assert.ErrorIs(t, Validate(gocv.NewMat()), ErrInvalidMask)
}

func TestClean(t *testing.T) {
	mask := grayMat(t, 50, 50, 255)
	mask.SetUCharAt(25, 25, 0) // isolated speckle
	gocv.Rectangle(&mask, image.Rect(5, 5, 20, 20), color.RGBA{A: 255}, -1)

	Clean(&mask)

	assert.Equal(t, uint8(255), mask.GetUCharAt(25, 25), "speckle removed")
	assert.Equal(t, uint8(0), mask.GetUCharAt(12, 12), "large obstacle kept")
}

func TestClearMarkers(t *testing.T) {
	mask := grayMat(t, 60, 60, 0)

	ClearMarkers(&mask, [][]image.Point{{{10, 10}, {30, 10}, {30, 30}, {10, 30}}})

	assert.Equal(t, uint8(255), mask.GetUCharAt(20, 20))
	assert.Equal(t, uint8(0), mask.GetUCharAt(50, 50))

	ClearMarkers(&mask, nil)
}

func TestGrayRoundTrip(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 10)
	}

	m, err := FromGray(img)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, 4, m.Cols())
	assert.Equal(t, uint8(50), m.GetUCharAt(1, 1))

	back, err := ToGray(m)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, back.Pix)
	assert.Equal(t, img.Rect, back.Rect)

	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)
	sm, err := FromGray(sub)
	require.NoError(t, err)
	defer sm.Close()
	assert.Equal(t, uint8(50), sm.GetUCharAt(0, 0))

	_, err = ToGray(gocv.NewMat())
	assert.ErrorIs(t, err, ErrInvalidMask)
}

func TestThresholdProvider(t *testing.T) {
	p := NewThresholdProvider()
	square := image.Rect(80, 80, 120, 120)

	for _, scene := range []string{SceneWall, SceneTable} {
		t.Run(scene, func(t *testing.T) {
			frame := sceneFrame(t, 200, 200, square)
			var steps []Progress

			mask, err := p.Segment(context.Background(), Request{Frame: frame, Scene: scene}, func(pr Progress) {
				steps = append(steps, pr)
			})
			require.NoError(t, err)
			defer mask.Close()

			assert.Equal(t, gocv.MatTypeCV8UC1, mask.Type())
			assert.Equal(t, uint8(0), mask.GetUCharAt(100, 100), "dark square is an obstacle")
			assert.Equal(t, uint8(255), mask.GetUCharAt(10, 10), "bright background is free")
			assert.NotEmpty(t, steps)
		})
	}

	t.Run("uniform wall", func(t *testing.T) {
		frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 100, 100, gocv.MatTypeCV8UC3)
		defer frame.Close()

		mask, err := p.Segment(context.Background(), Request{Frame: frame, Scene: SceneWall}, nil)
		require.NoError(t, err)
		defer mask.Close()
		assert.Zero(t, ObstacleRatio(mask))
	})

	t.Run("empty frame", func(t *testing.T) {
		_, err := p.Segment(context.Background(), Request{Frame: gocv.NewMat()}, nil)
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		frame := sceneFrame(t, 50, 50, image.Rect(0, 0, 1, 1))
		_, err := p.Segment(ctx, Request{Frame: frame}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMockProvider(t *testing.T) {
	frame := grayMat(t, 40, 30, 0)

	t.Run("free mask by default", func(t *testing.T) {
		p := NewMockProvider(nil)
		p.SetSteps(Progress{Step: "model", Percent: 50})
		var got []Progress

		mask, err := p.Segment(context.Background(), Request{Frame: frame}, func(pr Progress) { got = append(got, pr) })
		require.NoError(t, err)
		defer mask.Close()

		assert.Equal(t, 30, mask.Rows())
		assert.Equal(t, 40, mask.Cols())
		assert.Zero(t, ObstacleRatio(mask))
		assert.Equal(t, []Progress{{Step: "model", Percent: 50}}, got)
		assert.Equal(t, 1, p.Calls())
	})

	t.Run("error", func(t *testing.T) {
		p := NewMockProvider(nil)
		boom := errors.New("model crashed")
		p.SetError(boom)
		_, err := p.Segment(context.Background(), Request{Frame: frame}, nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("delay honors context", func(t *testing.T) {
		p := NewMockProvider(nil)
		p.SetDelay(time.Hour)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := p.Segment(ctx, Request{Frame: frame}, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestFallbackProvider(t *testing.T) {
	frame := grayMat(t, 20, 20, 0)
	primary := NewMockProvider(nil)
	primary.SetError(errors.New("no gpu"))
	secondary := NewMockProvider(nil)

	var steps []Progress
	p := FallbackProvider{Primary: primary, Secondary: secondary}
	mask, err := p.Segment(context.Background(), Request{Frame: frame}, func(pr Progress) { steps = append(steps, pr) })
	require.NoError(t, err)
	defer mask.Close()

	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	require.Len(t, steps, 1)
	assert.Equal(t, "fallback", steps[0].Step)
}

func TestDecodeMask(t *testing.T) {
	src := grayMat(t, 20, 10, 255)
	buf, err := gocv.IMEncode(gocv.PNGFileExt, src)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(buf.GetBytes())
	buf.Close()

	mask, err := decodeMask(encoded, 40, 20)
	require.NoError(t, err)
	defer mask.Close()
	assert.Equal(t, 40, mask.Cols(), "resized to the frame")
	assert.Equal(t, 20, mask.Rows())

	_, err = decodeMask("!!!", 40, 20)
	assert.ErrorIs(t, err, ErrInvalidMask)
}

func TestSubprocessProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a process")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}

	src := grayMat(t, 16, 12, 255)
	buf, err := gocv.IMEncode(gocv.PNGFileExt, src)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(buf.GetBytes())
	buf.Close()

	dir := t.TempDir()
	script := filepath.Join(dir, ServiceScript)
	body := fmt.Sprintf("cat > /dev/null\n"+
		"echo 'starting up'\n"+
		"echo '{\"type\":\"progress\",\"step\":\"model\",\"progress\":50}'\n"+
		"echo '{\"type\":\"mask\",\"mask\":\"%s\"}'\n", encoded)
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 10, 10, 0), 12, 16, gocv.MatTypeCV8UC3)
	defer frame.Close()

	p := NewSubprocessProvider(DefaultConfig(), sh, script)
	var steps []Progress
	mask, err := p.Segment(context.Background(), Request{Frame: frame, Points: []image.Point{{3, 4}}}, func(pr Progress) {
		steps = append(steps, pr)
	})
	require.NoError(t, err)
	defer mask.Close()

	assert.Equal(t, 16, mask.Cols())
	assert.Equal(t, 12, mask.Rows())
	assert.Equal(t, []Progress{{Step: "model", Percent: 50}}, steps)

	t.Run("service error", func(t *testing.T) {
		errScript := filepath.Join(dir, "fail.sh")
		require.NoError(t, os.WriteFile(errScript, []byte("cat > /dev/null\necho '{\"type\":\"error\",\"error\":\"out of memory\"}'\n"), 0o755))

		_, err := NewSubprocessProvider(DefaultConfig(), sh, errScript).Segment(context.Background(), Request{Frame: frame}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of memory")
	})

	t.Run("no mask", func(t *testing.T) {
		quiet := filepath.Join(dir, "quiet.sh")
		require.NoError(t, os.WriteFile(quiet, []byte("cat > /dev/null\n"), 0o755))

		_, err := NewSubprocessProvider(DefaultConfig(), sh, quiet).Segment(context.Background(), Request{Frame: frame}, nil)
		assert.Error(t, err)
	})
}
