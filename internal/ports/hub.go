package ports

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	clientBufferSize    = 16
	broadcastBufferSize = 16
)

type hubClient struct {
	hub  *SnapshotHub
	conn *websocket.Conn
	send chan []byte
}

// SnapshotHub pushes every published session snapshot to the connected overlay clients
type SnapshotHub struct {
	clients    map[*hubClient]struct{}
	broadcast  chan []byte
	register   chan *hubClient
	unregister chan *hubClient
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	stopped bool

	upgrader websocket.Upgrader
	current  func() domain.Snapshot
	logger   *slog.Logger
}

func NewSnapshotHub(allowedOrigins *DomainSuffixes, current func() domain.Snapshot, logger *slog.Logger) *SnapshotHub {
	return &SnapshotHub{
		clients:    make(map[*hubClient]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Browser sources in streaming software send no origin
				return origin == "" || allowedOrigins.AnyMatch(origin)
			},
		},
		current: current,
		logger:  logger,
	}
}

func (h *SnapshotHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			h.stopped = true
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Snapshot hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Overlay client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Overlay client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues the snapshot for all clients without blocking. Returns false if it was dropped.
func (h *SnapshotHub) Broadcast(snapshot domain.Snapshot) bool {
	if h.IsStopped() {
		return false
	}

	data, err := SnapshotToJSON(snapshot)
	if err != nil {
		h.logger.Error("Failed to encode snapshot", "error", err.Error())
		return false
	}

	select {
	case h.broadcast <- data:
		return true
	case <-h.done:
		return false
	default:
		h.logger.Warn("Snapshot broadcast queue full, dropping snapshot")
		return false
	}
}

func (h *SnapshotHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop is idempotent
func (h *SnapshotHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *SnapshotHub) IsStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

func (h *SnapshotHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.IsStopped() {
		http.Error(w, "Snapshot hub is not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		logger.WarnContext(ctx, "Websocket upgrade failed", "error", err.Error())
		return
	}

	initial, err := SnapshotToJSON(h.current())
	if err != nil {
		logger.ErrorContext(ctx, "Failed to encode initial snapshot", "error", err.Error())
		_ = conn.Close()
		return
	}

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	client.send <- initial

	select {
	case h.register <- client:
		go client.writePump(context.WithoutCancel(ctx))
		go client.readPump(context.WithoutCancel(ctx))
	case <-h.done:
		if err := conn.Close(); err != nil {
			logger.WarnContext(ctx, "Websocket close failed", "error", err.Error())
		}
	}
}

func (c *hubClient) readPump(ctx context.Context) {
	logger := logging.FromContext(ctx)
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Overlay clients only listen
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WarnContext(ctx, "Websocket read failed", "error", err.Error())
			}
			return
		}
	}
}

func (c *hubClient) writePump(ctx context.Context) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One snapshot per frame, each is a complete state
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.WarnContext(ctx, "Websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
