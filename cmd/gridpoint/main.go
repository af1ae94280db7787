package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ayusman/gridpoint/internal/app"
	"github.com/ayusman/gridpoint/internal/config"
	"github.com/ayusman/gridpoint/internal/tray"
)

// flag name -> config key
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"camera":    "camera.device",
	"log-level": "log.level",
	"tray":      "tray",
	"data-dir":  "data_dir",
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	cmd := &cobra.Command{
		Use:          "gridpoint",
		Short:        "Camera grid game server",
		Long:         "gridpoint streams a camera over WebSocket, turns a segmented scene into an occupancy grid with a path, and confirms cells by pointing.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v, configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log, os.Stderr)
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "config file (default: gridpoint.yaml in ., ~/.gridpoint, /etc/gridpoint)")
	f.String("addr", "", "listen address")
	f.Int("camera", 0, "camera device index")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.Bool("tray", false, "show a system tray menu")
	f.String("data-dir", "", "directory for the database and mask")
	return cmd
}

// loadConfig binds the flags the user set and loads the configuration.
func loadConfig(cmd *cobra.Command, v *viper.Viper, path string) (config.Config, error) {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return config.Config{}, fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return config.Load(v, path)
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
}

func run(ctx context.Context, cfg config.Config) error {
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		return a.Run(ctx)
	}

	t := tray.New()
	t.Attach(a.Orchestrator())
	t.OnOpen(func() { openBrowser(browserURL(cfg.Server.Addr)) })
	t.OnQuit(stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
		t.Quit()
	}()
	t.Run()
	stop()
	return <-errCh
}

func browserURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("open browser")
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
