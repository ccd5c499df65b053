package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nevindra/parley"
)

// clientBuffer is the per-client send queue. A client that falls this far
// behind is dropped rather than back-pressuring the queue.
const clientBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans task lifecycle events out to websocket subscribers.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	logger  *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger,
	}
}

// Publish broadcasts one task event. Called synchronously from the queue,
// so it never blocks: slow clients lose their slot instead.
func (h *Hub) Publish(ev parley.TaskEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("events: dropping slow client")
		}
	}
	h.mu.Unlock()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) add(conn *websocket.Conn) *hubClient {
	c := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(c.send)
		return c
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// handleEvents upgrades to a websocket and streams task lifecycle events
// until the client disconnects or falls behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := s.events.add(conn)
	defer s.events.remove(c)

	// Drain (and discard) client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.events.remove(c)
				return
			}
		}
	}()

	for payload := range c.send {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
