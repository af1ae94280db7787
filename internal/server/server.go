// Package server provides the HTTP and WebSocket front end of gridpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/gridpoint/internal/metrics"
	"github.com/ayusman/gridpoint/internal/orchestrator"
	"github.com/ayusman/gridpoint/internal/render"
	"github.com/ayusman/gridpoint/internal/segment"
	"github.com/ayusman/gridpoint/internal/server/api"
	"github.com/ayusman/gridpoint/internal/store"
)

// Config holds the server configuration. Every field is optional; routes
// whose backing component is missing are not registered.
type Config struct {
	StaticDir    string
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
}

// Server represents the HTTP server for the gridpoint application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	ws     *ProtocolHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Orchestrator != nil {
		s.ws = NewProtocolHandler(s.config.Orchestrator, s.config.Metrics)
		s.mux.Handle("/ws", s.ws)
		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.HandleFunc("/api/mask", s.handleMask)
	}

	if s.config.Store != nil {
		runs := api.NewRunHandler(s.config.Store)
		s.mux.Handle("/api/runs", runs)
		s.mux.Handle("/api/runs/", runs)
		s.mux.Handle("/api/selections", api.NewSelectionHandler(s.config.Store))
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// CloseConnections ends every open protocol connection and waits for
// their controllers to stop, bounded by ctx. Hijacked WebSocket
// connections are not closed by http.Server.Shutdown.
func (s *Server) CloseConnections(ctx context.Context) error {
	if s.ws == nil {
		return nil
	}
	return s.ws.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

type statusResponse struct {
	orchestrator.Status
	Uptime string `json:"uptime"`
}

// handleStatus reports connections, their modes and camera usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, statusResponse{
		Status: s.config.Orchestrator.Status(),
		Uptime: time.Since(s.start).String(),
	})
}

// handleMask serves the latest obstacle mask as PNG.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.config.Orchestrator.Masks().Latest()
	if snap.Mask == nil {
		http.Error(w, "No mask yet", http.StatusNotFound)
		return
	}

	m, err := segment.FromGray(snap.Mask)
	if err != nil {
		http.Error(w, "Failed to convert mask", http.StatusInternalServerError)
		return
	}
	defer m.Close()
	data, err := render.EncodePNG(m)
	if err != nil {
		http.Error(w, "Failed to encode mask", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Mask-Version", formatUint(snap.Version))
	w.Write(data)
}
