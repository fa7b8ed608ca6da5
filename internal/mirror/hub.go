package mirror

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventGatewayStatus = "gateway.status"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // 90% of pongWait
	maxMessageSize = 4096
)

// Event is pushed to dashboard clients on /ws/events.
type Event struct {
	Type           string        `json:"type"`
	GatewayID      string        `json:"gateway_id"`
	Kind           SyncKind      `json:"kind,omitempty"`
	SessionKey     string        `json:"session_key,omitempty"`
	Synced         int           `json:"synced,omitempty"`
	Status         GatewayStatus `json:"status,omitempty"`
	PreviousStatus GatewayStatus `json:"previous_status,omitempty"`
	Error          string        `json:"error,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// EventPublisher receives sync and health events.
type EventPublisher interface {
	Publish(Event)
}

// EventHub fans events out to websocket subscribers using the Gorilla hub
// pattern. Subscribers only receive; anything they send is discarded.
type EventHub struct {
	clients    map[string]*eventClient
	register   chan *eventClient
	unregister chan *eventClient
	broadcast  chan []byte

	authToken      string
	allowedOrigins []string

	upgrader websocket.Upgrader
	metrics  *Metrics
	logger   *zap.Logger
	mu       sync.RWMutex
	ctx      context.Context
}

func NewEventHub(ctx context.Context, authToken string, allowedOrigins []string, logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventHub{
		clients:        make(map[string]*eventClient),
		register:       make(chan *eventClient),
		unregister:     make(chan *eventClient),
		broadcast:      make(chan []byte, 256),
		authToken:      authToken,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		ctx:            ctx,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *EventHub) SetMetrics(m *Metrics) {
	h.metrics = m
}

func (h *EventHub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.metrics.SetEventClients(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetEventClients(n)
			h.logger.Debug("event client connected", zap.String("client_id", c.id))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetEventClients(n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping slow event client", zap.String("client_id", id))
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish never blocks; events are dropped when the broadcast queue is full.
func (h *EventHub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("event queue full, dropping event", zap.String("type", ev.Type))
	}
}

// ServeWS upgrades an authenticated request (bearer header or token query
// parameter) to an event stream.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}

	if h.authToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &eventClient{
		hub:  h,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, 64),
	}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("rejected event client from unauthorized origin", zap.String("origin", origin))
	return false
}

type eventClient struct {
	hub  *EventHub
	conn *websocket.Conn
	id   string
	send chan []byte
}

func (c *eventClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected close", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
