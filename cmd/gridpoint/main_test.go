package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/gridpoint/internal/config"
)

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--addr", "127.0.0.1:9999",
		"--camera", "2",
		"--log-level", "debug",
		"--data-dir", dir,
	}))

	v := config.New()
	cfg, err := loadConfig(cmd, v, "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Camera.Device)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, dir, cfg.DataDir)
	assert.False(t, cfg.Tray)
}

func TestLoadConfig_UnsetFlagsKeepDefaults(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse(nil))

	cfg, err := loadConfig(cmd, config.New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":8765", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse(nil))

	_, err := loadConfig(cmd, config.New(), "/nonexistent/gridpoint.yaml")
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setupLogging(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)

	setupLogging(config.LogConfig{Level: "bogus"}, &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestBrowserURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8765", browserURL(":8765"))
	assert.Equal(t, "http://127.0.0.1:80", browserURL("127.0.0.1:80"))
}
