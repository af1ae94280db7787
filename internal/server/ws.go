package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/gridpoint/internal/metrics"
	"github.com/ayusman/gridpoint/internal/orchestrator"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxCommandSize = 1024
	// commandBuffer lets the reader keep draining the socket, and so
	// keep answering pings, while a long segmentation holds the
	// controller.
	commandBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// wsSender writes protocol messages as binary WebSocket frames. gorilla
// connections allow one concurrent writer, so writes are serialized.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSender) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ProtocolHandler upgrades requests to the gridpoint WebSocket protocol and
// runs one orchestrator controller per connection.
type ProtocolHandler struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	conns   map[string]context.CancelFunc
	closing bool
	active  sync.WaitGroup
}

// NewProtocolHandler creates a ProtocolHandler. m may be nil.
func NewProtocolHandler(o *orchestrator.Orchestrator, m *metrics.Metrics) *ProtocolHandler {
	return &ProtocolHandler{
		orch:    o,
		metrics: m,
		log:     log.With().Str("component", "ws").Logger(),
		conns:   make(map[string]context.CancelFunc),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ProtocolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !h.track(id, cancel) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer h.active.Done()
	defer h.untrack(id)

	if h.metrics != nil {
		h.metrics.ActiveConnections.Add(1)
		h.metrics.TotalConnections.Add(1)
		defer h.metrics.ActiveConnections.Add(-1)
	}

	logger := h.log.With().Str("conn", id).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("client connected")

	out := &wsSender{conn: conn}
	commands := make(chan string, commandBuffer)
	go h.read(ctx, cancel, conn, commands, logger)
	go h.keepAlive(ctx, out, logger)

	err = h.orch.Serve(ctx, id, out, commands)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("controller stopped")
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	logger.Info().Msg("client disconnected")
}

// read forwards text messages as commands. It cancels the connection
// context when the socket closes.
func (h *ProtocolHandler) read(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, commands chan<- string, logger zerolog.Logger) {
	defer cancel()

	conn.SetReadLimit(maxCommandSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if typ != websocket.TextMessage {
			logger.Debug().Int("type", typ).Msg("ignoring non-text message")
			continue
		}

		select {
		case commands <- string(data):
		case <-ctx.Done():
			return
		}
	}
}

func (h *ProtocolHandler) keepAlive(ctx context.Context, out *wsSender, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// track registers a connection. It reports false once shutdown has begun.
func (h *ProtocolHandler) track(id string, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[id] = cancel
	h.active.Add(1)
	return true
}

func (h *ProtocolHandler) untrack(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Connections returns the number of open connections.
func (h *ProtocolHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll cancels every open connection and refuses new ones. Each
// controller releases its camera before its handler returns.
func (h *ProtocolHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
	for _, cancel := range h.conns {
		cancel()
	}
}

// Shutdown closes every connection and waits until their handlers have
// returned or ctx is done.
func (h *ProtocolHandler) Shutdown(ctx context.Context) error {
	h.CloseAll()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.log.Warn().Int("connections", h.Connections()).Msg("connections still open at shutdown")
		return ctx.Err()
	}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
