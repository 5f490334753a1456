// Package relay implements the broadcast hub: a WebSocket connection
// registry that fans auction events out to subscribed viewers and accepts
// events from the ledger over an ingress boundary.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/events"
)

// Config holds WebSocket transport settings for the hub.
type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	IngressBuffer   int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		IngressBuffer:   1000,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Hub owns the live connection set and delivers events to interested
// connections. All registry access is lock-guarded; delivery to each
// connection is fire-and-forget through its buffered send channel, so a slow
// viewer never blocks the rest.
type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}

	upgrader websocket.Upgrader
	config   Config
	ingress  chan events.Event
}

// Connection represents one live viewer. Its auth identity and subscription
// set are mutated by the read pump and read by the fan-out path, guarded by
// the connection's own mutex.
type Connection struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	userID string
	subs   map[events.Subscription]struct{}

	connectedAt time.Time
}

// NewHub creates a hub ready to accept connections and events.
func NewHub(config Config) *Hub {
	return &Hub{
		connections: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		ingress: make(chan events.Event, config.IngressBuffer),
	}
}

// Run processes ingress events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("broadcast hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast hub shutting down")
			return
		case ev := <-h.ingress:
			h.broadcast(ev)
		}
	}
}

// Publish hands an event to the hub for fan-out. Non-blocking: when the
// ingress buffer is full the event is dropped with a warning, never queued
// against the publisher.
func (h *Hub) Publish(ev events.Event) {
	select {
	case h.ingress <- ev:
	default:
		log.Warn().
			Str("event_type", string(ev.Type)).
			Str("auction_id", ev.AuctionID).
			Msg("ingress buffer full, dropping event")
	}
}

// HandleWebSocket upgrades an HTTP request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	connection := &Connection{
		id:          uuid.New().String(),
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
		done:        make(chan struct{}),
		subs:        make(map[events.Subscription]struct{}),
		connectedAt: time.Now(),
	}

	h.register(connection)
	connection.enqueueJSON(events.Event{
		Type:    events.EventTypeConnected,
		Message: "Connected to FlashBid relay",
	})

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.id).Msg("WebSocket connection established")
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn] = struct{}{}

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", len(h.connections)).
		Msg("connection registered")
}

// unregister removes a connection. The read and write pumps both call this
// on exit, so it tolerates the second call. The send channel itself is never
// closed: broadcast and the PONG path enqueue outside the registry lock, so a
// close there could race a send. Teardown is signalled through done instead.
func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn]; !exists {
		return
	}
	delete(h.connections, conn)
	close(conn.done)

	log.Info().
		Str("connection_id", conn.id).
		Int("total_connections", len(h.connections)).
		Msg("connection unregistered")
}

// broadcast delivers one event: to every connection whose subscription set
// matches the event's auction, or to every connection when the event carries
// no auction tag.
func (h *Hub) broadcast(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Snapshot matching connections so the lock is not held while sending.
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		if ev.AuctionID == "" || conn.subscribedTo(ev.AuctionID) {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if !conn.enqueue(data) {
			// Send buffer full: the connection is slow or dead. Drop it
			// rather than stall delivery to everyone else.
			log.Warn().Str("connection_id", conn.id).Msg("send buffer full, closing connection")
			h.unregister(conn)
			conn.conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(ev.Type)).
		Str("auction_id", ev.AuctionID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns the number of live connections.
func (h *Hub) Stats() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (c *Connection) subscribedTo(auctionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		if sub.Matches(auctionID) {
			return true
		}
	}
	return false
}

// enqueue offers data to the connection's send channel without blocking.
// Safe against a concurrent unregister: a torn-down connection swallows the
// message instead of reporting a full buffer.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) enqueueJSON(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.id).Msg("failed to marshal message")
		return
	}
	if !c.enqueue(data) {
		log.Warn().Str("connection_id", c.id).Msg("send buffer full, dropping message")
	}
}

// writePump sends queued messages and transport-level pings. A write error
// ends the pump, which is what removes a dead connection: the hub never
// times out pings on its own.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			// Unregistered elsewhere.
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump consumes inbound control messages until the transport reports an
// error or closure.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		// Client is alive.
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage applies one inbound control message. A payload that fails to
// parse is logged and dropped; it is never grounds for closing the connection.
func (c *Connection) handleMessage(message []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("dropping malformed client message")
		return
	}

	switch msg.Type {
	case events.MessageTypeAuth:
		c.mu.Lock()
		c.userID = msg.UserID
		c.mu.Unlock()
		log.Debug().Str("connection_id", c.id).Str("user_id", msg.UserID).Msg("connection authenticated")

	case events.MessageTypeSubscribe:
		if msg.AuctionID == "" {
			return
		}
		sub := events.ParseSubscription(msg.AuctionID)
		c.mu.Lock()
		c.subs[sub] = struct{}{}
		c.mu.Unlock()
		log.Debug().Str("connection_id", c.id).Str("target", sub.Wire()).Msg("subscribed")

	case events.MessageTypeUnsubscribe:
		if msg.AuctionID == "" {
			return
		}
		sub := events.ParseSubscription(msg.AuctionID)
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		log.Debug().Str("connection_id", c.id).Str("target", sub.Wire()).Msg("unsubscribed")

	case events.MessageTypePing:
		c.enqueueJSON(events.Event{Type: events.EventTypePong})

	default:
		log.Debug().Str("connection_id", c.id).Str("type", string(msg.Type)).Msg("unknown message type")
	}
}

// UserID returns the authenticated user for the connection, if any.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}
