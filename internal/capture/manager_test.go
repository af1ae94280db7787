package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SingleSession(t *testing.T) {
	op := NewMockOpener()
	m := NewManager(testConfig(op))

	s1, err := m.Acquire(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", m.Owner())
	assert.True(t, m.Busy())

	_, err = m.Acquire(context.Background(), "conn-2")
	assert.ErrorIs(t, err, ErrCameraBusy)

	m.Release(s1)
	assert.False(t, m.Busy())
	assert.Equal(t, "", m.Owner())

	s2, err := m.Acquire(context.Background(), "conn-2")
	require.NoError(t, err)
	m.Release(s2)

	// stale and double releases are harmless
	m.Release(s1)
	m.Release(s2)
	m.Release(nil)

	st := m.Stats()
	assert.Equal(t, 2, st.Opens)
	assert.Equal(t, 2, st.Closes)
	assert.Equal(t, 0, st.Open)
	assert.Equal(t, 1, st.MaxOpen)

	opens, closes, open, maxOpen := op.Counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 2, closes)
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, maxOpen)
}

func TestManager_ConcurrentAcquire(t *testing.T) {
	op := NewMockOpener()
	m := NewManager(testConfig(op))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				s, err := m.Acquire(context.Background(), "worker")
				if err != nil {
					assert.ErrorIs(t, err, ErrCameraBusy)
					continue
				}
				m.Release(s)
			}
		}()
	}
	wg.Wait()

	_, _, open, maxOpen := op.Counts()
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, maxOpen)
	assert.Equal(t, 1, m.Stats().MaxOpen)
}

func TestManager_FailedAcquireLeavesCameraFree(t *testing.T) {
	op := NewMockOpener()
	op.FailOpens(100)
	cfg := testConfig(op)
	cfg.OpenAttempts = 2
	m := NewManager(cfg)

	_, err := m.Acquire(context.Background(), "conn-1")
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.False(t, m.Busy())
	assert.Equal(t, 1, m.Stats().Failures)
}

func TestManager_StatsWhileOpening(t *testing.T) {
	op := NewMockOpener()
	cfg := testConfig(op)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	cfg.Opener = func(index int) (Device, error) {
		once.Do(func() { close(entered) })
		<-gate
		return op.Open(index)
	}
	m := NewManager(cfg)

	acquired := make(chan *Session, 1)
	go func() {
		s, err := m.Acquire(context.Background(), "conn-1")
		assert.NoError(t, err)
		acquired <- s
	}()
	<-entered

	stats := make(chan Stats, 1)
	go func() { stats <- m.Stats() }()
	select {
	case st := <-stats:
		assert.Equal(t, "conn-1", st.Owner)
		assert.Equal(t, 0, st.Open)
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked while the device was opening")
	}

	assert.True(t, m.Busy())
	_, err := m.Acquire(context.Background(), "conn-2")
	assert.ErrorIs(t, err, ErrCameraBusy)

	close(gate)
	s := <-acquired
	require.NotNil(t, s)
	assert.Equal(t, 1, m.Stats().Open)

	m.Release(s)
	assert.False(t, m.Busy())
}
