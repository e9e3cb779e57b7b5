package ws

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"batchgate/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles WebSocket connections
type Handler struct {
	executor       *service.Executor
	maxMessageSize int64
	logger         zerolog.Logger

	clients   map[*Client]struct{}
	clientsMu sync.Mutex

	connections atomic.Int64
	accepted    atomic.Uint64
	messages    atomic.Uint64
	dropped     atomic.Uint64
}

// NewHandler creates a new WebSocket handler
func NewHandler(executor *service.Executor, maxMessageSize int64, logger zerolog.Logger) *Handler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Handler{
		executor:       executor,
		maxMessageSize: maxMessageSize,
		logger:         logger.With().Str("component", "ws").Logger(),
		clients:        make(map[*Client]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	h.accepted.Add(1)
	h.connections.Add(1)
	defer h.connections.Add(-1)

	h.logger.Info().
		Str("remoteAddr", r.RemoteAddr).
		Msg("new WebSocket connection")

	client := NewClient(conn, h, h.logger.With().Str("remoteAddr", r.RemoteAddr).Logger())
	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	h.clientsMu.Unlock()

	client.Run(r.Context())

	h.clientsMu.Lock()
	delete(h.clients, client)
	h.clientsMu.Unlock()
}

// CloseAll closes every open connection. Hijacked connections are not
// closed by http.Server.Shutdown.
func (h *Handler) CloseAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.Close()
	}
}

// Stats returns the connection counters
func (h *Handler) Stats() Stats {
	return Stats{
		Connections: h.connections.Load(),
		Accepted:    h.accepted.Load(),
		Messages:    h.messages.Load(),
		Dropped:     h.dropped.Load(),
	}
}
