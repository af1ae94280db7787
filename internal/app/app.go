// Package app wires the gridpoint components together and runs the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/gridpoint/internal/capture"
	"github.com/ayusman/gridpoint/internal/config"
	"github.com/ayusman/gridpoint/internal/detector"
	"github.com/ayusman/gridpoint/internal/hook"
	"github.com/ayusman/gridpoint/internal/marker"
	"github.com/ayusman/gridpoint/internal/metrics"
	"github.com/ayusman/gridpoint/internal/orchestrator"
	"github.com/ayusman/gridpoint/internal/segment"
	"github.com/ayusman/gridpoint/internal/server"
	"github.com/ayusman/gridpoint/internal/store"
)

// segmentServiceScript is the Python segmentation helper.
const segmentServiceScript = "segment_service.py"

// ShutdownTimeout bounds how long Run waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// Options replaces perception and capture components. Zero fields use the
// real implementations chosen from the configuration.
type Options struct {
	Opener    capture.Opener
	Hands     detector.Detector
	Markers   marker.Detector
	Segmenter segment.Provider
}

// App owns every long-lived component of a gridpoint process.
type App struct {
	config  config.Config
	log     zerolog.Logger
	store   *store.Store
	camera  *capture.Manager
	hands   detector.Detector
	markers marker.Detector
	masks   *orchestrator.MaskStore
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	hooks   *hook.Dispatcher
	server  *server.Server
}

// New builds the application from cfg.
func New(cfg config.Config, opts Options) (*App, error) {
	a := &App{
		config: cfg,
		log:    log.With().Str("component", "app").Logger(),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	camCfg := cfg.CaptureConfig()
	if opts.Opener != nil {
		camCfg.Opener = opts.Opener
	}
	a.camera = capture.NewManager(camCfg)

	a.metrics = metrics.New()
	a.metrics.WatchCamera(a.camera)

	a.hands = opts.Hands
	if a.hands == nil {
		a.hands = a.newHandDetector()
	}
	a.markers = opts.Markers
	if a.markers == nil {
		a.markers = marker.NewArucoDetector()
	}
	segmenter := opts.Segmenter
	if segmenter == nil {
		segmenter = a.newSegmenter()
	}

	a.masks = orchestrator.NewMaskStore(cfg.MaskPath())
	if err := a.masks.Load(); err != nil {
		a.log.Warn().Err(err).Msg("ignoring persisted mask")
	}

	a.orch, err = orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Camera:    a.camera,
		Hands:     a.hands,
		Markers:   a.markers,
		Segmenter: segmenter,
		Masks:     a.masks,
		Store:     st,
		Metrics:   a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	hooks := hook.NewManager(cfg.HooksDir())
	if err := hooks.Discover(); err != nil {
		a.log.Warn().Err(err).Str("dir", hooks.Dir()).Msg("hook discovery failed")
	}
	a.hooks = hook.NewDispatcher(hooks, hook.NewExecutor(cfg.Hooks.Timeout))
	a.hooks.Attach(a.orch)

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		a.log.Info().Str("dir", staticDir).Msg("serving static files")
	}
	a.server = server.New(server.Config{
		StaticDir:    staticDir,
		Store:        st,
		Orchestrator: a.orch,
		Metrics:      a.metrics,
	})

	return a, nil
}

// newHandDetector uses MediaPipe when its helper script is installed and
// falls back to a detector that never sees a hand.
func (a *App) newHandDetector() detector.Detector {
	mp, err := detector.NewMediaPipeDetector(a.config.HandDetectorConfig())
	if err == nil {
		a.log.Info().Msg("using MediaPipe hand detection")
		return mp
	}
	a.log.Warn().Err(err).Msg("MediaPipe not available, combat will not see hands")
	return detector.NewMockDetector()
}

// newSegmenter prefers the segmentation service and keeps the local
// threshold provider as fallback, or as the only provider when the
// service script is missing.
func (a *App) newSegmenter() segment.Provider {
	cfg := a.config.SegmentProviderConfig()
	threshold := segment.NewThresholdProvider()

	script := cfg.ScriptPath
	if script == "" {
		script = detector.FindScript(segmentServiceScript)
	}
	if script == "" {
		a.log.Warn().Msg(segmentServiceScript + " not found, using threshold segmentation")
		return threshold
	}

	python := cfg.PythonPath
	if python == "" {
		python = detector.FindPython()
	}
	sub := segment.NewSubprocessProvider(cfg, python, script)
	a.log.Info().Str("script", script).Bool("fallback", cfg.Fallback).Msg("using segmentation service")
	if !cfg.Fallback {
		return sub
	}
	return segment.FallbackProvider{Primary: sub, Secondary: threshold}
}

// Handler returns the HTTP handler serving the API and the protocol.
func (a *App) Handler() http.Handler {
	return a.server
}

// Orchestrator returns the mode orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Camera returns the camera manager.
func (a *App) Camera() *capture.Manager {
	return a.camera
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.config.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then closes protocol connections,
// waits for their controllers to release the camera and shuts the HTTP
// server down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hctx, stopHooks := context.WithCancel(ctx)
	defer stopHooks()
	go a.hooks.Run(hctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := a.server.CloseConnections(sctx); err != nil {
		a.log.Warn().Err(err).Msg("protocol connections did not stop in time")
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases detectors and the store. Call it after Run returns.
func (a *App) Close() error {
	var errs []error
	if a.hands != nil {
		if err := a.hands.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close hand detector: %w", err))
		}
	}
	if a.markers != nil {
		if err := a.markers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close marker detector: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// findWebDir searches for the web directory in common locations.
// It checks "web", "../web" and ~/.gridpoint/web.
func findWebDir() string {
	candidates := []string{"web", filepath.Join("..", "web")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".gridpoint", "web"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
