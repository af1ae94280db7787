package capture

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrMockOpen is returned by MockOpener while FailOpens is positive.
var ErrMockOpen = errors.New("mock device unavailable")

// MockDevice simulates a camera for testing. It produces solid frames of the
// currently selected size and only honors sizes listed in Supported.
type MockDevice struct {
	mu        sync.Mutex
	opener    *MockOpener
	supported []Resolution
	current   Resolution
	fps       float64
	interval  time.Duration
	failReads int
	dead      bool
	closed    bool
	reads     int
	fill      gocv.Scalar
}

// Read fills m with a frame of the current size.
func (d *MockDevice) Read(m *gocv.Mat) bool {
	d.mu.Lock()
	interval := d.interval
	if d.closed || d.dead {
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
		return false
	}
	if d.failReads > 0 {
		d.failReads--
		d.mu.Unlock()
		return false
	}
	d.reads++
	size := d.current
	fill := d.fill
	d.mu.Unlock()

	if interval > 0 {
		time.Sleep(interval)
	}

	frame := gocv.NewMatWithSizeFromScalar(fill, size.Height, size.Width, gocv.MatTypeCV8UC3)
	old := *m
	*m = frame
	old.Close()
	return true
}

// Set applies width, height and fps. Unsupported sizes are ignored, leaving
// the previous size in place.
func (d *MockDevice) Set(prop gocv.VideoCaptureProperties, param float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch prop {
	case gocv.VideoCaptureFrameWidth:
		d.trySize(Resolution{Width: int(param), Height: d.current.Height}, true)
	case gocv.VideoCaptureFrameHeight:
		d.trySize(Resolution{Width: d.current.Width, Height: int(param)}, false)
	case gocv.VideoCaptureFPS:
		d.fps = param
	}
}

// trySize snaps to a supported mode. Width and height arrive separately, so a
// width change selects the first supported mode with that width.
func (d *MockDevice) trySize(r Resolution, byWidth bool) {
	for _, s := range d.supported {
		if s == r {
			d.current = s
			return
		}
	}
	for _, s := range d.supported {
		if byWidth && s.Width == r.Width {
			d.current = s
			return
		}
	}
}

// Get returns width, height or fps.
func (d *MockDevice) Get(prop gocv.VideoCaptureProperties) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch prop {
	case gocv.VideoCaptureFrameWidth:
		return float64(d.current.Width)
	case gocv.VideoCaptureFrameHeight:
		return float64(d.current.Height)
	case gocv.VideoCaptureFPS:
		return d.fps
	}
	return 0
}

// IsOpened reports whether the device has not been closed.
func (d *MockDevice) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// Close releases the device. Closing twice is a no-op.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.opener != nil {
		d.opener.closed()
	}
	return nil
}

// FailReads makes the next n reads fail.
func (d *MockDevice) FailReads(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads = n
}

// Kill makes every further read fail, simulating an unplugged camera.
func (d *MockDevice) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
}

// Reads returns the number of successful reads.
func (d *MockDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Current returns the selected size.
func (d *MockDevice) Current() Resolution {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// MockOpener creates MockDevices and counts how many are open at once.
type MockOpener struct {
	// Supported lists the modes devices honor; the first is the power-on size.
	Supported []Resolution
	// Interval is the simulated time per frame.
	Interval time.Duration
	// Fill is the BGR color of produced frames.
	Fill gocv.Scalar

	mu        sync.Mutex
	failOpens int
	opens     int
	closes    int
	open      int
	maxOpen   int
	devices   []*MockDevice
}

// NewMockOpener creates an opener whose devices support the given modes.
func NewMockOpener(supported ...Resolution) *MockOpener {
	if len(supported) == 0 {
		supported = []Resolution{{Width: DefaultWidth, Height: DefaultHeight}}
	}
	return &MockOpener{
		Supported: supported,
		Interval:  5 * time.Millisecond,
		Fill:      gocv.NewScalar(128, 128, 128, 0),
	}
}

// Open implements Opener.
func (o *MockOpener) Open(index int) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.failOpens > 0 {
		o.failOpens--
		return nil, ErrMockOpen
	}

	d := &MockDevice{
		opener:    o,
		supported: o.Supported,
		current:   o.Supported[0],
		interval:  o.Interval,
		fill:      o.Fill,
	}
	o.devices = append(o.devices, d)
	o.opens++
	o.open++
	if o.open > o.maxOpen {
		o.maxOpen = o.open
	}
	return d, nil
}

func (o *MockOpener) closed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	o.open--
}

// FailOpens makes the next n opens fail.
func (o *MockOpener) FailOpens(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failOpens = n
}

// Counts returns total opens, total closes, currently open and the maximum
// number of devices that were open at the same time.
func (o *MockOpener) Counts() (opens, closes, open, maxOpen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.closes, o.open, o.maxOpen
}

// Last returns the most recently opened device.
func (o *MockOpener) Last() *MockDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.devices) == 0 {
		return nil
	}
	return o.devices[len(o.devices)-1]
}
