// Package metrics exposes runtime counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/gridpoint/internal/capture"
)

// Metrics holds all application metrics
type Metrics struct {
	// Stream counters
	FramesSent    atomic.Uint64
	FramesDropped atomic.Uint64
	BytesSent     atomic.Uint64

	// Gesture counters
	Confirmations atomic.Uint64
	DetectErrors  atomic.Uint64

	// Connection tracking
	ActiveConnections atomic.Int64
	TotalConnections  atomic.Uint64

	commands     *prometheus.CounterVec
	segmentation *prometheus.CounterVec
	segDuration  prometheus.Histogram
	modes        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_frames_sent_total",
			Help: "Total FRAME messages written to clients",
		},
		func() float64 { return float64(m.FramesSent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_frames_dropped_total",
			Help: "Frames not sent because encoding or writing failed",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_bytes_sent_total",
			Help: "Total bytes written to clients",
		},
		func() float64 { return float64(m.BytesSent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_confirmations_total",
			Help: "Total dwell confirmations",
		},
		func() float64 { return float64(m.Confirmations.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_detect_errors_total",
			Help: "Hand or marker detection failures",
		},
		func() float64 { return float64(m.DetectErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gridpoint_active_connections",
			Help: "Open protocol connections",
		},
		func() float64 { return float64(m.ActiveConnections.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_connections_total",
			Help: "Protocol connections accepted",
		},
		func() float64 { return float64(m.TotalConnections.Load()) },
	))

	m.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpoint_commands_total",
		Help: "Commands received by kind",
	}, []string{"command"})

	m.segmentation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpoint_segmentations_total",
		Help: "Segmentation runs by result",
	}, []string{"result"})

	m.segDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridpoint_segmentation_seconds",
		Help:    "Duration of segmentation runs",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	m.modes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridpoint_connections_in_mode",
		Help: "Connections currently in each mode",
	}, []string{"mode"})

	m.registry.MustRegister(m.commands, m.segmentation, m.segDuration, m.modes)
}

// WatchCamera exports the counters of a camera manager.
func (m *Metrics) WatchCamera(mgr *capture.Manager) {
	stat := func(f func(capture.Stats) float64) func() float64 {
		return func() float64 { return f(mgr.Stats()) }
	}

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_camera_opens_total",
			Help: "Camera sessions opened",
		},
		stat(func(s capture.Stats) float64 { return float64(s.Opens) }),
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gridpoint_camera_open",
			Help: "Camera sessions currently open (0 or 1)",
		},
		stat(func(s capture.Stats) float64 { return float64(s.Open) }),
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_camera_restarts_total",
			Help: "Watchdog restarts of stalled cameras",
		},
		stat(func(s capture.Stats) float64 { return float64(s.Restarts) }),
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_camera_failures_total",
			Help: "Failed camera acquisitions",
		},
		stat(func(s capture.Stats) float64 { return float64(s.Failures) }),
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "gridpoint_camera_frames_total",
			Help: "Frames captured by the camera",
		},
		stat(func(s capture.Stats) float64 { return float64(s.FramesTotal) }),
	))
}

// Command counts one received command.
func (m *Metrics) Command(kind string) {
	m.commands.WithLabelValues(kind).Inc()
}

// Segmentation records the result and duration of a run.
func (m *Metrics) Segmentation(result string, d time.Duration) {
	m.segmentation.WithLabelValues(result).Inc()
	m.segDuration.Observe(d.Seconds())
}

// EnterMode moves one connection from one mode gauge to another.
func (m *Metrics) EnterMode(from, to string) {
	if from != "" {
		m.modes.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.modes.WithLabelValues(to).Inc()
	}
}

// FrameSent counts a streamed frame of n bytes.
func (m *Metrics) FrameSent(n int) {
	m.FramesSent.Add(1)
	m.BytesSent.Add(uint64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
