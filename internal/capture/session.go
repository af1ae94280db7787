package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Session is one open camera and its capture goroutine. A Session is single
// use: once stopped it cannot be started again.
type Session struct {
	config Config
	log    zerolog.Logger

	// device is touched only by Start, the capture goroutine and Stop after
	// the goroutine has exited.
	device Device

	mu         sync.Mutex
	frame      gocv.Mat
	hasFrame   bool
	frameCount uint64
	lastFrame  time.Time
	resolution Resolution
	fps        int
	running    bool
	started    bool
	restarts   int
	err        error
	cancel     context.CancelFunc
	done       chan struct{}
	stopped    chan struct{}
}

// NewSession creates an unstarted Session.
func NewSession(config Config) *Session {
	return &Session{
		config: config,
		log:    log.With().Str("component", "capture").Int("device", config.DeviceIndex).Logger(),
	}
}

// Start opens the device, negotiates a resolution and starts the capture
// loop. It returns the resolution actually delivered by the device. On error
// nothing is left open.
func (s *Session) Start(ctx context.Context, deviceIndex, width, height, fps int) (Resolution, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Resolution{}, ErrSessionUsed
	}
	s.started = true
	s.mu.Unlock()

	if fps <= 0 {
		fps = DefaultFPS
	}
	s.config.DeviceIndex = deviceIndex

	dev, err := s.open(ctx, deviceIndex)
	if err != nil {
		return Resolution{}, err
	}

	res, err := s.negotiate(ctx, dev, Resolution{Width: width, Height: height}, fps)
	if err != nil {
		dev.Close()
		return Resolution{}, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.device = dev

	s.mu.Lock()
	s.resolution = res
	s.fps = fps
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	s.lastFrame = time.Now()
	s.mu.Unlock()

	go s.run(loopCtx)

	s.log.Info().
		Str("requested", fmt.Sprintf("%dx%d", width, height)).
		Str("actual", res.String()).
		Int("fps", fps).
		Msg("camera started")

	return res, nil
}

// Stop ends the capture loop, waits for it to exit and closes the device.
// It is idempotent and may be called from any goroutine; every caller
// returns only after the device is released.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if stopped == nil {
		return
	}
	if cancel == nil {
		<-stopped
		return
	}

	cancel()
	<-s.done

	if s.device != nil {
		if err := s.device.Close(); err != nil {
			s.log.Warn().Err(err).Msg("error closing camera")
		}
		s.device = nil
	}

	s.mu.Lock()
	s.running = false
	if s.hasFrame {
		s.frame.Close()
		s.hasFrame = false
	}
	s.mu.Unlock()

	close(stopped)
	s.log.Info().Msg("camera stopped")
}

// Frame returns a copy of the latest frame. The caller owns the returned Mat
// and must close it. ok is false until the first frame has arrived.
func (s *Session) Frame() (gocv.Mat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasFrame {
		return gocv.NewMat(), false
	}
	return s.frame.Clone(), true
}

// WaitFrame polls for the first frame until ctx ends.
func (s *Session) WaitFrame(ctx context.Context) (gocv.Mat, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		frame, ok := s.Frame()
		if ok {
			return frame, nil
		}
		frame.Close()
		if err := s.Err(); err != nil {
			return gocv.NewMat(), err
		}
		if !s.Running() {
			return gocv.NewMat(), ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return gocv.NewMat(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// Resolution returns the negotiated resolution.
func (s *Session) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution
}

// FPS returns the requested frame rate.
func (s *Session) FPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// Running reports whether the capture loop is alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err returns the error that ended the capture loop, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FrameCount returns the number of frames captured so far.
func (s *Session) FrameCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCount
}

// Restarts returns how often the watchdog reopened the device.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Session) open(ctx context.Context, index int) (Device, error) {
	var dev Device
	err := s.config.retry(ctx, "open", s.config.OpenAttempts, func() (struct{}, error) {
		d, err := s.config.opener()(index)
		if err != nil {
			return struct{}{}, err
		}
		dev = d
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrOpenFailed, index, err)
	}
	return dev, nil
}

// negotiate tries the candidate resolutions in order and returns the first
// one whose probe frame matches the request exactly. When none matches, the
// last probed size is accepted if it lies within the configured band.
func (s *Session) negotiate(ctx context.Context, dev Device, pref Resolution, fps int) (Resolution, error) {
	probe := gocv.NewMat()
	defer probe.Close()

	var last Resolution
	for _, want := range s.config.candidates(pref) {
		dev.Set(gocv.VideoCaptureFrameWidth, float64(want.Width))
		dev.Set(gocv.VideoCaptureFrameHeight, float64(want.Height))
		dev.Set(gocv.VideoCaptureFPS, float64(fps))

		if err := s.read(ctx, dev, &probe); err != nil {
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			s.log.Debug().Err(err).Str("resolution", want.String()).Msg("probe read failed")
			continue
		}

		got := Resolution{Width: probe.Cols(), Height: probe.Rows()}
		last = got
		if got == want {
			return got, nil
		}
		s.log.Debug().
			Str("requested", want.String()).
			Str("got", got.String()).
			Msg("resolution not honored")
	}

	if !last.IsZero() && last.within(s.config.MinResolution, s.config.MaxResolution) {
		return last, nil
	}
	return Resolution{}, ErrNoResolution
}

func (s *Session) read(ctx context.Context, dev Device, dst *gocv.Mat) error {
	return s.config.retry(ctx, "read", s.config.ReadAttempts, func() (struct{}, error) {
		if !dev.Read(dst) {
			return struct{}{}, errReadFailed
		}
		if dst.Empty() {
			return struct{}{}, errEmptyFrame
		}
		return struct{}{}, nil
	})
}

// run is the capture loop. It is the only writer of the frame slot.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	buf := gocv.NewMat()
	defer buf.Close()

	lastGood := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.read(ctx, s.device, &buf)
		if err == nil {
			s.store(buf)
			lastGood = time.Now()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if time.Since(lastGood) < s.config.StallTimeout {
			continue
		}

		s.log.Warn().Err(err).Dur("since_last_frame", time.Since(lastGood)).Msg("camera stalled, restarting")
		if err := s.restart(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("%w: %v", ErrStalled, err))
			return
		}
		lastGood = time.Now()
	}
}

func (s *Session) store(frame gocv.Mat) {
	clone := frame.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasFrame {
		s.frame.Close()
	}
	s.frame = clone
	s.hasFrame = true
	s.frameCount++
	s.lastFrame = time.Now()
}

func (s *Session) restart(ctx context.Context) error {
	if s.device != nil {
		s.device.Close()
		s.device = nil
	}

	dev, err := s.open(ctx, s.config.DeviceIndex)
	if err != nil {
		return err
	}

	res := s.Resolution()
	dev.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	dev.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	dev.Set(gocv.VideoCaptureFPS, float64(s.FPS()))
	s.device = dev

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()

	s.log.Info().Msg("camera restarted")
	return nil
}

func (s *Session) fail(err error) {
	s.log.Error().Err(err).Msg("camera failed")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.running = false
	if s.hasFrame {
		s.frame.Close()
		s.hasFrame = false
	}
}
