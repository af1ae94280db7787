package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/gridpoint/internal/capture"
)

func TestCounters(t *testing.T) {
	m := New()

	m.FrameSent(100)
	m.FrameSent(50)
	m.Confirmations.Add(1)
	m.Command("START_COMBAT")
	m.Command("START_COMBAT")
	m.Segmentation("ok", 2*time.Second)
	m.EnterMode("", "combat")
	m.EnterMode("combat", "idle")

	assert.Equal(t, uint64(2), m.FramesSent.Load())
	assert.Equal(t, uint64(150), m.BytesSent.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("START_COMBAT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.segmentation.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.modes.WithLabelValues("combat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modes.WithLabelValues("idle")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameSent(10)

	op := capture.NewMockOpener(capture.Resolution{Width: 640, Height: 480})
	cfg := capture.DefaultConfig()
	cfg.Opener = op.Open
	mgr := capture.NewManager(cfg)
	m.WatchCamera(mgr)

	s, err := mgr.Acquire(context.Background(), "test")
	require.NoError(t, err)
	defer mgr.Release(s)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "gridpoint_frames_sent_total 1"), text)
	assert.True(t, strings.Contains(text, "gridpoint_camera_open 1"), text)
	assert.True(t, strings.Contains(text, "gridpoint_camera_opens_total 1"), text)
}
