// Package feed streams runner events to operators over websockets.
//
// Hub is a runner event sink. Each connected client gets a buffered queue;
// a slow client loses events instead of stalling the runner. New clients
// first receive the recent backlog, oldest first.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/runner"
)

const (
	// RecentSize is how many events the hub keeps for backlog and the API.
	RecentSize = 100

	clientBuffer = 64
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
)

type client struct {
	id   uuid.UUID
	send chan runner.Event
}

// Hub fans runner events out to websocket clients.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	recent  []runner.Event
	dropped int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*client),
	}
}

// Publish records ev and queues it for every client. Never blocks.
func (h *Hub) Publish(ev runner.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, ev)
	if len(h.recent) > RecentSize {
		h.recent = h.recent[len(h.recent)-RecentSize:]
	}

	for _, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// slow client, drop the event for it
			h.dropped++
		}
	}
}

// Recent returns up to limit events, newest first.
func (h *Hub) Recent(_ context.Context, limit int) ([]runner.Event, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]runner.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.recent[i])
	}
	return out, nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many client deliveries were dropped.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func (h *Hub) subscribe() (*client, []runner.Event) {
	c := &client{id: uuid.New(), send: make(chan runner.Event, clientBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	backlog := make([]runner.Event, len(h.recent))
	copy(backlog, h.recent)
	return c, backlog
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	c, backlog := h.subscribe()
	defer h.unsubscribe(c)
	h.logger.Info("feed client connected", "client_id", c.id, "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	write := func(v any) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}

	for _, ev := range backlog {
		if err := write(ev); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-c.send:
			if err := write(ev); err != nil {
				h.logger.Debug("feed write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			h.logger.Info("feed client disconnected", "client_id", c.id)
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// readLoop discards client messages and signals when the connection ends.
func (h *Hub) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
