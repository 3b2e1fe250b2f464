package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 64               // messages in each client send channel
)

// Authenticator resolves a ?token= value to a user id.
type Authenticator func(token string) (uuid.UUID, error)

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte // buffered outbound message queue
	userID uuid.UUID   // zero-value = anonymous
}

// outbound is one message and its audience.  uuid.Nil addresses everyone.
type outbound struct {
	userID uuid.UUID
	data   []byte
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub maintains the set of active clients and routes messages to them.
// Challenge updates go only to the owner's connections; leaderboard messages
// go to everyone.  Run must be started before ServeWs is used.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// channels consumed by Run()
	outbound   chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	auth     Authenticator // optional; nil treats every connection as anonymous
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub creates a Hub ready to be started with Run().
func NewHub(auth Authenticator, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		outbound:   make(chan outbound, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		auth:       auth,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run: hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration and outbound events
// sequentially until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.outbound:
			h.mu.RLock()
			for client := range h.clients {
				if msg.userID != uuid.Nil && client.userID != msg.userID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow client: drop rather than stall everyone else.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs: HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection.  A ?token=
// that fails authentication is refused with 401; no token at all yields an
// anonymous connection that only receives broadcasts.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	var userID uuid.UUID
	if token := r.URL.Query().Get("token"); token != "" && h.auth != nil {
		id, err := h.auth(token)
		if err != nil {
			http.Error(w, domain.ErrTokenInvalid.Error(), http.StatusUnauthorized)
			return
		}
		userID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection.  It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services pongs; the protocol is push-only.  When the
// connection drops the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("ws: unexpected close", "user_id", c.userID, "err", err)
			}
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbound helpers, implementing service.Notifier and scheduler.Broadcaster
// ──────────────────────────────────────────────────────────────────────────────

// NotifyChallenge pushes a challenge_update to the owner's connections.
func (h *Hub) NotifyChallenge(c *domain.Challenge) {
	if c.UserID == uuid.Nil {
		return
	}
	h.enqueue(c.UserID, NewChallengeUpdate(c))
}

// BroadcastLeaderboard pushes the current ranking to every client.
func (h *Hub) BroadcastLeaderboard(entries []*domain.LeaderboardEntry) {
	h.enqueue(uuid.Nil, LeaderboardMessage{
		Type:      MsgTypeLeaderboard,
		Entries:   entries,
		Timestamp: time.Now().UTC(),
	})
}

// enqueue is the common marshalling path.  It never blocks the caller.
func (h *Hub) enqueue(userID uuid.UUID, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("ws: marshal failed", "err", err)
		return
	}
	select {
	case h.outbound <- outbound{userID: userID, data: data}:
	default:
		h.logger.Warn("ws: outbound channel full, message dropped", "user_id", userID)
	}
}
