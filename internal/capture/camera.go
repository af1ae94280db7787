// Package capture provides camera capture functionality using GoCV (OpenCV).
//
// A Session owns one open device and a capture goroutine that keeps the
// latest frame in a single slot. A Manager hands out at most one Session per
// physical camera at a time.
package capture

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrOpenFailed is returned when the device cannot be opened.
	ErrOpenFailed = errors.New("camera open failed")
	// ErrNoResolution is returned when no candidate resolution is honored.
	ErrNoResolution = errors.New("no supported camera resolution")
	// ErrCameraBusy is returned when the camera is held by another owner.
	ErrCameraBusy = errors.New("camera busy")
	// ErrNotRunning is returned when reading from a stopped session.
	ErrNotRunning = errors.New("camera session not running")
	// ErrSessionUsed is returned when starting a session twice.
	ErrSessionUsed = errors.New("camera session already used")
	// ErrStalled is returned when the device stops delivering frames and
	// cannot be restarted.
	ErrStalled = errors.New("camera stalled")

	errReadFailed = errors.New("failed to read frame from camera")
	errEmptyFrame = errors.New("captured frame is empty")
)

// Device is the subset of *gocv.VideoCapture a Session uses.
type Device interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Get(prop gocv.VideoCaptureProperties) float64
	IsOpened() bool
	Close() error
}

// Opener opens the capture device with the given index.
type Opener func(index int) (Device, error)

// OpenDevice opens a real camera through OpenCV.
func OpenDevice(index int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("device %d did not open", index)
	}
	return vc, nil
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// IsZero reports whether r is unset.
func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

// within reports whether r lies inside [lo, hi] on both axes. Zero bounds
// are open.
func (r Resolution) within(lo, hi Resolution) bool {
	if !lo.IsZero() && (r.Width < lo.Width || r.Height < lo.Height) {
		return false
	}
	if !hi.IsZero() && (r.Width > hi.Width || r.Height > hi.Height) {
		return false
	}
	return true
}

// DefaultFallbacks are common video modes tried after the preferred one.
var DefaultFallbacks = []Resolution{
	{Width: 1280, Height: 720},
	{Width: 640, Height: 480},
	{Width: 800, Height: 600},
	{Width: 1920, Height: 1080},
	{Width: 320, Height: 240},
}

// Config holds camera and capture loop settings.
type Config struct {
	// DeviceIndex selects the camera.
	DeviceIndex int
	// Width and Height are the preferred resolution.
	Width  int
	Height int
	// FPS is the requested device frame rate.
	FPS int
	// Fallbacks are tried in order when the preferred size is not honored.
	Fallbacks []Resolution
	// MinResolution and MaxResolution bound the accepted sizes.
	MinResolution Resolution
	MaxResolution Resolution
	// OpenAttempts bounds device open retries.
	OpenAttempts int
	// ReadAttempts bounds consecutive read retries per frame.
	ReadAttempts int
	// RetryInterval is the first backoff delay; it doubles up to RetryMaxInterval.
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration
	// StallTimeout is how long the loop tolerates missing frames before it
	// restarts the device.
	StallTimeout time.Duration
	// Opener opens devices; nil means OpenDevice.
	Opener Opener
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		DeviceIndex:      0,
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		FPS:              DefaultFPS,
		Fallbacks:        DefaultFallbacks,
		MinResolution:    Resolution{Width: 320, Height: 240},
		MaxResolution:    Resolution{Width: 1920, Height: 1080},
		OpenAttempts:     3,
		ReadAttempts:     5,
		RetryInterval:    50 * time.Millisecond,
		RetryMaxInterval: time.Second,
		StallTimeout:     3 * time.Second,
	}
}

// candidates returns the preferred resolution followed by the fallbacks,
// deduplicated and restricted to the configured band.
func (c Config) candidates(pref Resolution) []Resolution {
	seen := make(map[Resolution]bool)
	var out []Resolution
	for _, r := range append([]Resolution{pref}, c.Fallbacks...) {
		if r.IsZero() || seen[r] || !r.within(c.MinResolution, c.MaxResolution) {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func (c Config) opener() Opener {
	if c.Opener != nil {
		return c.Opener
	}
	return OpenDevice
}
