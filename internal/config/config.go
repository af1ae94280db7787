// Package config loads gridpoint settings from defaults, an optional YAML
// file, GRIDPOINT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ayusman/gridpoint/internal/capture"
	"github.com/ayusman/gridpoint/internal/detector"
	"github.com/ayusman/gridpoint/internal/gesture"
	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/orchestrator"
	"github.com/ayusman/gridpoint/internal/segment"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "GRIDPOINT"

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Grid     GridConfig     `mapstructure:"grid"`
	Gesture  GestureConfig  `mapstructure:"gesture"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Segment  SegmentConfig  `mapstructure:"segment"`
	Detector DetectorConfig `mapstructure:"detector"`
	Log      LogConfig      `mapstructure:"log"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
	DataDir  string         `mapstructure:"data_dir"`
	Tray     bool           `mapstructure:"tray"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
}

// CameraConfig configures the capture device.
type CameraConfig struct {
	Device           int           `mapstructure:"device"`
	Width            int           `mapstructure:"width"`
	Height           int           `mapstructure:"height"`
	FPS              int           `mapstructure:"fps"`
	OpenAttempts     int           `mapstructure:"open_attempts"`
	ReadAttempts     int           `mapstructure:"read_attempts"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval"`
	StallTimeout     time.Duration `mapstructure:"stall_timeout"`
}

// GridConfig configures the occupancy grid.
type GridConfig struct {
	CellSize int `mapstructure:"cell_size"`
}

// GestureConfig configures dwell confirmation.
type GestureConfig struct {
	Alpha              float64       `mapstructure:"alpha"`
	Predict            bool          `mapstructure:"predict"`
	PredictAlpha       float64       `mapstructure:"predict_alpha"`
	PredictBeta        float64       `mapstructure:"predict_beta"`
	Hysteresis         int           `mapstructure:"hysteresis"`
	StabilityWindow    int           `mapstructure:"stability_window"`
	StabilityThreshold float64       `mapstructure:"stability_threshold"`
	Dwell              time.Duration `mapstructure:"dwell"`
	MinHandScore       float64       `mapstructure:"min_hand_score"`
}

// StreamConfig configures frame streaming.
type StreamConfig struct {
	PlanningFPS float64 `mapstructure:"planning_fps"`
	CombatFPS   float64 `mapstructure:"combat_fps"`
	JPEGQuality int     `mapstructure:"jpeg_quality"`
}

// SegmentConfig configures the segmentation provider.
type SegmentConfig struct {
	Script            string        `mapstructure:"script"`
	Python            string        `mapstructure:"python"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Fallback          bool          `mapstructure:"fallback"`
	Scene             string        `mapstructure:"scene"`
	FirstFrameTimeout time.Duration `mapstructure:"first_frame_timeout"`
}

// DetectorConfig configures the hand landmark service.
type DetectorConfig struct {
	Script        string        `mapstructure:"script"`
	Python        string        `mapstructure:"python"`
	MaxHands      int           `mapstructure:"max_hands"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// HooksConfig configures external event hooks. An empty Dir means
// <data_dir>/hooks.
type HooksConfig struct {
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults, environment binding and
// config search paths set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gridpoint")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.gridpoint", "/etc/gridpoint"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	cam := capture.DefaultConfig()
	ges := gesture.DefaultConfig()
	det := detector.DefaultConfig()
	seg := segment.DefaultConfig()
	orc := orchestrator.DefaultConfig()

	v.SetDefault("server.addr", ":8765")
	v.SetDefault("server.static_dir", "")

	v.SetDefault("camera.device", cam.DeviceIndex)
	v.SetDefault("camera.width", cam.Width)
	v.SetDefault("camera.height", cam.Height)
	v.SetDefault("camera.fps", cam.FPS)
	v.SetDefault("camera.open_attempts", cam.OpenAttempts)
	v.SetDefault("camera.read_attempts", cam.ReadAttempts)
	v.SetDefault("camera.retry_interval", cam.RetryInterval)
	v.SetDefault("camera.retry_max_interval", cam.RetryMaxInterval)
	v.SetDefault("camera.stall_timeout", cam.StallTimeout)

	v.SetDefault("grid.cell_size", grid.DefaultCellSize)

	v.SetDefault("gesture.alpha", ges.Alpha)
	v.SetDefault("gesture.predict", ges.Predict)
	v.SetDefault("gesture.predict_alpha", ges.PredictAlpha)
	v.SetDefault("gesture.predict_beta", ges.PredictBeta)
	v.SetDefault("gesture.hysteresis", ges.Hysteresis)
	v.SetDefault("gesture.stability_window", ges.StabilityWindow)
	v.SetDefault("gesture.stability_threshold", ges.StabilityThreshold)
	v.SetDefault("gesture.dwell", ges.DwellDuration)
	v.SetDefault("gesture.min_hand_score", orc.MinHandScore)

	v.SetDefault("stream.planning_fps", orc.PlanningFPS)
	v.SetDefault("stream.combat_fps", orc.CombatFPS)
	v.SetDefault("stream.jpeg_quality", orc.JPEGQuality)

	v.SetDefault("segment.script", "")
	v.SetDefault("segment.python", "")
	v.SetDefault("segment.timeout", seg.Timeout)
	v.SetDefault("segment.fallback", seg.Fallback)
	v.SetDefault("segment.scene", orc.Scene)
	v.SetDefault("segment.first_frame_timeout", orc.FirstFrameTimeout)

	v.SetDefault("detector.script", "")
	v.SetDefault("detector.python", "")
	v.SetDefault("detector.max_hands", det.MaxHands)
	v.SetDefault("detector.min_confidence", det.MinConfidence)
	v.SetDefault("detector.idle_timeout", det.IdleTimeout)

	v.SetDefault("hooks.dir", "")
	v.SetDefault("hooks.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	home, _ := os.UserHomeDir()
	v.SetDefault("data_dir", filepath.Join(home, ".gridpoint"))
	v.SetDefault("tray", false)
}

// Load reads the config file (an explicit path, or the search paths when
// empty) and decodes everything into a Config. A missing file on the
// search paths is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("config: server.addr is empty")
	case c.Grid.CellSize <= 0:
		return fmt.Errorf("config: grid.cell_size must be positive, got %d", c.Grid.CellSize)
	case c.Camera.Width <= 0 || c.Camera.Height <= 0:
		return fmt.Errorf("config: camera size %dx%d is invalid", c.Camera.Width, c.Camera.Height)
	case c.Gesture.Dwell <= 0:
		return errors.New("config: gesture.dwell must be positive")
	case c.Segment.Scene != segment.SceneWall && c.Segment.Scene != segment.SceneTable:
		return fmt.Errorf("config: segment.scene must be %q or %q", segment.SceneWall, segment.SceneTable)
	}
	return nil
}

// CaptureConfig converts the camera section.
func (c Config) CaptureConfig() capture.Config {
	cfg := capture.DefaultConfig()
	cfg.DeviceIndex = c.Camera.Device
	cfg.Width = c.Camera.Width
	cfg.Height = c.Camera.Height
	cfg.FPS = c.Camera.FPS
	cfg.OpenAttempts = c.Camera.OpenAttempts
	cfg.ReadAttempts = c.Camera.ReadAttempts
	cfg.RetryInterval = c.Camera.RetryInterval
	cfg.RetryMaxInterval = c.Camera.RetryMaxInterval
	cfg.StallTimeout = c.Camera.StallTimeout
	return cfg
}

// GestureEngineConfig converts the gesture section.
func (c Config) GestureEngineConfig() gesture.Config {
	return gesture.Config{
		Alpha:              c.Gesture.Alpha,
		Predict:            c.Gesture.Predict,
		PredictAlpha:       c.Gesture.PredictAlpha,
		PredictBeta:        c.Gesture.PredictBeta,
		Hysteresis:         c.Gesture.Hysteresis,
		StabilityWindow:    c.Gesture.StabilityWindow,
		StabilityThreshold: c.Gesture.StabilityThreshold,
		DwellDuration:      c.Gesture.Dwell,
	}
}

// HandDetectorConfig converts the detector section.
func (c Config) HandDetectorConfig() detector.Config {
	return detector.Config{
		MaxHands:      c.Detector.MaxHands,
		MinConfidence: c.Detector.MinConfidence,
		ScriptPath:    c.Detector.Script,
		PythonPath:    c.Detector.Python,
		IdleTimeout:   c.Detector.IdleTimeout,
	}
}

// SegmentProviderConfig converts the segment section.
func (c Config) SegmentProviderConfig() segment.Config {
	return segment.Config{
		ScriptPath: c.Segment.Script,
		PythonPath: c.Segment.Python,
		Timeout:    c.Segment.Timeout,
		Fallback:   c.Segment.Fallback,
	}
}

// OrchestratorConfig converts the settings used by mode controllers.
func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		CellSize:          c.Grid.CellSize,
		PlanningFPS:       c.Stream.PlanningFPS,
		CombatFPS:         c.Stream.CombatFPS,
		JPEGQuality:       c.Stream.JPEGQuality,
		FirstFrameTimeout: c.Segment.FirstFrameTimeout,
		Scene:             c.Segment.Scene,
		MinHandScore:      c.Gesture.MinHandScore,
		Gesture:           c.GestureEngineConfig(),
	}
}

// DBPath returns the SQLite database location.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "gridpoint.db")
}

// HooksDir returns the directory scanned for hooks.
func (c Config) HooksDir() string {
	if c.Hooks.Dir != "" {
		return c.Hooks.Dir
	}
	return filepath.Join(c.DataDir, "hooks")
}

// MaskPath returns where the latest obstacle mask is kept.
func (c Config) MaskPath() string {
	return filepath.Join(c.DataDir, "mask.png")
}
