package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Fallbacks for zero WebSocket settings, in seconds and bytes.
const (
	defaultPingInterval   = 30
	defaultPongTimeout    = 10
	defaultMaxMessageSize = 4096

	// wsSendBufferSize is the per-client outbound queue. A client that falls
	// further behind misses states.
	wsSendBufferSize = 64
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
// ChannelState is the only channel.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// upgrader accepts any origin: every upgrade already carries a bearer token
// and the listener is loopback by default.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub fans controller states out to connected WebSocket clients.
type Hub struct {
	logger *logging.Logger

	pingInterval time.Duration
	pongWait     time.Duration
	readLimit    int64

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one WebSocket connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string

	// muted is set while the client has unsubscribed from the state feed.
	muted atomic.Bool
}

// NewHub creates a hub. Zero settings take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return &Hub{
		logger:       logger,
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		readLimit:    int64(cfg.MaxMessageSize),
		clients:      make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func (h *Hub) register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", client.subject, "clients", n)
}

// unregister removes client. Only the call that removes it closes send, so
// a concurrent Run cannot double-close.
func (h *Hub) unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "subject", client.subject, "clients", n)
	}
}

// BroadcastState queues one state event for every client on the feed.
// It never blocks.
func (h *Hub) BroadcastState(payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: ChannelState,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal state event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.muted.Load() {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Debug("websocket client behind, state dropped", "subject", client.subject)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the request. authMiddleware has already checked
// the token.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		subject: claims.Subject,
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	h := c.hub
	c.conn.SetReadLimit(h.readLimit)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(WSMessage{Type: WSTypeError, Payload: errorPayload("invalid JSON message")})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	case WSTypeSubscribe, WSTypeUnsubscribe:
		for _, ch := range msg.Payload.Channels {
			if ch != ChannelState {
				c.reply(WSMessage{Type: WSTypeError, ID: msg.ID, Payload: errorPayload("unknown channel: " + ch)})
				return
			}
		}
		key := "subscribed"
		if msg.Type == WSTypeUnsubscribe {
			key = "unsubscribed"
		}
		if len(msg.Payload.Channels) > 0 {
			c.muted.Store(msg.Type == WSTypeUnsubscribe)
		}
		c.reply(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: map[string]any{key: msg.Payload.Channels}})
	default:
		c.reply(WSMessage{Type: WSTypeError, ID: msg.ID, Payload: errorPayload("unknown message type: " + msg.Type)})
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}

// reply queues msg for this client. A reply racing Run's shutdown is
// dropped.
func (c *WSClient) reply(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
