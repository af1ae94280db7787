package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stats describes camera usage over the lifetime of a Manager.
type Stats struct {
	Opens       int    `json:"opens"`
	Closes      int    `json:"closes"`
	Open        int    `json:"open"`
	MaxOpen     int    `json:"max_open"`
	Restarts    int    `json:"restarts"`
	Owner       string `json:"owner,omitempty"`
	Failures    int    `json:"failures"`
	FramesTotal uint64 `json:"frames_total"`
}

// Manager guards one physical camera. At most one Session obtained from a
// Manager is open at any time.
type Manager struct {
	config Config
	log    zerolog.Logger

	mu       sync.Mutex
	current  *Session
	starting bool
	owner    string
	stats    Stats
}

// NewManager creates a Manager for the camera described by config.
func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		log:    log.With().Str("component", "camera-manager").Logger(),
	}
}

// Config returns the camera configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Acquire opens a new session for owner. It fails with ErrCameraBusy while
// another session is open or starting and with ErrOpenFailed or
// ErrNoResolution when the device cannot be started. The device is opened
// without holding the manager lock, so Stats stays available meanwhile.
func (m *Manager) Acquire(ctx context.Context, owner string) (*Session, error) {
	m.mu.Lock()
	if m.current != nil || m.starting {
		held := m.owner
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: held by %s", ErrCameraBusy, held)
	}
	m.starting = true
	m.owner = owner
	m.mu.Unlock()

	s := NewSession(m.config)
	_, err := s.Start(ctx, m.config.DeviceIndex, m.config.Width, m.config.Height, m.config.FPS)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false

	if err != nil {
		m.owner = ""
		m.stats.Failures++
		m.log.Warn().Err(err).Str("owner", owner).Msg("camera acquire failed")
		return nil, err
	}

	m.current = s
	m.stats.Opens++
	m.stats.Open++
	if m.stats.Open > m.stats.MaxOpen {
		m.stats.MaxOpen = m.stats.Open
	}

	m.log.Debug().Str("owner", owner).Msg("camera acquired")
	return s, nil
}

// Release stops s and frees the camera. Releasing a session twice, or one
// that is no longer current, only stops it.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s.Stop()
	if s != m.current {
		return
	}

	m.stats.Closes++
	m.stats.Open--
	m.stats.Restarts += s.Restarts()
	m.stats.FramesTotal += s.FrameCount()
	m.log.Debug().Str("owner", m.owner).Msg("camera released")
	m.current = nil
	m.owner = ""
}

// Owner returns the current owner, or "" when the camera is free.
func (m *Manager) Owner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Busy reports whether a session is open or being opened.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil || m.starting
}

// Stats returns a snapshot of usage counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stats
	st.Owner = m.owner
	if m.current != nil {
		st.Restarts += m.current.Restarts()
		st.FramesTotal += m.current.FrameCount()
	}
	return st
}
