package orchestrator

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/gridpoint/internal/segment"
)

// MaskSnapshot is the latest published obstacle mask.
type MaskSnapshot struct {
	Mask    *image.Gray
	Version uint64
	// RunID is the segmentation run that produced the mask, if known.
	RunID string
}

// MaskStore hands the most recent mask from segmentation to combat. Masks
// are never mutated after Publish; a new segmentation publishes a new one.
type MaskStore struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	current MaskSnapshot
}

// NewMaskStore creates a store that mirrors published masks to path. An
// empty path keeps masks in memory only.
func NewMaskStore(path string) *MaskStore {
	return &MaskStore{
		path: path,
		log:  log.With().Str("component", "masks").Logger(),
	}
}

// Load reads the persisted mask, if any. A missing file is not an error.
func (s *MaskStore) Load() error {
	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	m := gocv.IMRead(s.path, gocv.IMReadGrayScale)
	defer m.Close()
	if m.Empty() {
		return fmt.Errorf("read mask %s: unreadable image", s.path)
	}
	gray, err := segment.ToGray(m)
	if err != nil {
		return fmt.Errorf("read mask %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.current = MaskSnapshot{Mask: gray, Version: s.current.Version + 1}
	s.mu.Unlock()

	s.log.Info().Str("path", s.path).Int("width", gray.Rect.Dx()).Int("height", gray.Rect.Dy()).Msg("mask loaded")
	return nil
}

// Publish makes mask the latest mask and returns its version. Persisting
// to disk is best effort; the in-memory mask is updated either way.
func (s *MaskStore) Publish(mask *image.Gray, runID string) uint64 {
	s.mu.Lock()
	s.current = MaskSnapshot{Mask: mask, Version: s.current.Version + 1, RunID: runID}
	version := s.current.Version
	s.mu.Unlock()

	if err := s.persist(mask); err != nil {
		s.log.Warn().Err(err).Msg("persist mask")
	}
	return version
}

// Latest returns the current snapshot. Mask is nil before the first
// publish.
func (s *MaskStore) Latest() MaskSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version returns the version of the latest mask.
func (s *MaskStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Version
}

func (s *MaskStore) persist(mask *image.Gray) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	m, err := segment.FromGray(mask)
	if err != nil {
		return err
	}
	defer m.Close()

	ext := filepath.Ext(s.path)
	tmp := strings.TrimSuffix(s.path, ext) + ".tmp" + ext
	if !gocv.IMWrite(tmp, m) {
		return fmt.Errorf("write %s failed", tmp)
	}
	return os.Rename(tmp, s.path)
}
