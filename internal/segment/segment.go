// Package segment turns a camera frame into an obstacle mask.
//
// Masks are single channel 8-bit images where 255 is free floor or wall and
// 0 is an obstacle. Providers are black boxes; this package owns the
// post-processing every mask goes through before it reaches the grid.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Scene hints.
const (
	SceneWall  = "wall"
	SceneTable = "table"
)

var (
	// ErrInvalidMask is returned when a mask fails validation.
	ErrInvalidMask = errors.New("invalid mask")
	// ErrMaskSparse marks a mask with fewer obstacles than expected. Such a
	// mask is still usable, e.g. for a bare wall.
	ErrMaskSparse = fmt.Errorf("%w: too few obstacles", ErrInvalidMask)
	// ErrMaskDense marks a mask that is mostly obstacle, usually an
	// inverted or failed segmentation.
	ErrMaskDense = fmt.Errorf("%w: too many obstacles", ErrInvalidMask)
	// ErrEmptyFrame is returned when a request carries no image.
	ErrEmptyFrame = errors.New("empty frame")
)

// Request is one segmentation job.
type Request struct {
	Frame  gocv.Mat
	Scene  string
	Points []image.Point
}

// Progress is an intermediate report from a provider.
type Progress struct {
	Step    string `json:"step"`
	Percent int    `json:"progress"`
}

// ProgressFunc receives provider progress. It may be nil.
type ProgressFunc func(Progress)

// Provider produces an obstacle mask the size of the request frame. The
// caller owns the returned Mat.
type Provider interface {
	Segment(ctx context.Context, req Request, progress ProgressFunc) (gocv.Mat, error)
}

// Config configures the subprocess provider.
type Config struct {
	ScriptPath string
	PythonPath string
	Timeout    time.Duration
	// Fallback runs the local threshold provider when the subprocess fails.
	Fallback bool
}

// DefaultConfig returns the default provider configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:  2 * time.Minute,
		Fallback: true,
	}
}

func report(progress ProgressFunc, step string, percent int) {
	if progress != nil {
		progress(Progress{Step: step, Percent: percent})
	}
}

// MockProvider returns a copy of a fixed mask.
type MockProvider struct {
	mu    sync.Mutex
	mask  *image.Gray
	err   error
	steps []Progress
	delay time.Duration
	calls int
}

// NewMockProvider creates a provider that returns mask for every request.
// A nil mask yields an all-free mask of the frame size.
func NewMockProvider(mask *image.Gray) *MockProvider {
	return &MockProvider{mask: mask}
}

// SetError makes subsequent calls fail with err.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetSteps sets progress reports emitted before the mask is returned.
func (m *MockProvider) SetSteps(steps ...Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = steps
}

// SetDelay makes each call block for d or until the context ends.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many requests were served.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Segment implements Provider.
func (m *MockProvider) Segment(ctx context.Context, req Request, progress ProgressFunc) (gocv.Mat, error) {
	m.mu.Lock()
	m.calls++
	mask, err, steps, delay := m.mask, m.err, m.steps, m.delay
	m.mu.Unlock()

	for _, s := range steps {
		report(progress, s.Step, s.Percent)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return gocv.NewMat(), ctx.Err()
		}
	}
	if err != nil {
		return gocv.NewMat(), err
	}
	if mask == nil {
		if req.Frame.Empty() {
			return gocv.NewMat(), ErrEmptyFrame
		}
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), req.Frame.Rows(), req.Frame.Cols(), gocv.MatTypeCV8UC1), nil
	}
	return FromGray(mask)
}
