// Package realtime pushes chat and notification events to connected users
// over websockets.
package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
)

const (
	MessageTypeMessage      = "message"
	MessageTypeNotification = "notification"
	MessageTypeListing      = "listing"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type envelope struct {
	userID string
	msg    Message
}

// Hub tracks connected clients per user. All map mutations happen on the
// RunWithContext goroutine; readers take mu.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	direct     chan envelope
	done       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
}

// NewHub creates a hub. allowedOrigins follows the CORS setting; "*" allows
// any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan envelope, 256),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// RunWithContext processes registrations and deliveries until ctx is done,
// then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			n := h.ClientCount()
			h.closeAllClients()
			logging.Info().Str("component", "websocket-hub").Int("clients_closed", n).Msg("websocket hub stopped")
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()
			logging.Debug().Str("user_id", c.userID).Msg("websocket client connected")

		case c := <-h.unregister:
			h.remove(c)

		case env := <-h.direct:
			h.deliver(env)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.WebSocketConnections.Dec()
	logging.Debug().Str("user_id", c.userID).Msg("websocket client disconnected")
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients[env.userID] {
		select {
		case c.send <- env.msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logging.Warn().Str("user_id", c.userID).Msg("websocket send buffer full, dropping client")
		h.remove(c)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
			metrics.WebSocketConnections.Dec()
		}
		delete(h.clients, userID)
	}
}

// SendToUser queues msg for every connection of userID. It reports false
// when the hub is stopped or its queue is full.
func (h *Hub) SendToUser(userID string, msg Message) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.direct <- envelope{userID: userID, msg: msg}:
		return true
	default:
		logging.Warn().Str("message_type", msg.Type).Msg("websocket queue full, dropping message")
		return false
	}
}

// Online reports whether userID has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// ServeWS upgrades the request and attaches the connection to userID.
// The caller must have authenticated the request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(h, conn, userID)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return nil
	}
	c.start()
	return nil
}
