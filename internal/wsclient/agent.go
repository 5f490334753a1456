// Package wsclient provides the relay client: a WebSocket connection that
// authenticates, tracks subscriptions, and reconnects with backoff, rebuilding
// server-side subscription state from its own memory after every reconnect.
package wsclient

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/events"
)

// State is the agent's connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// backoffLadder holds the reconnect delays, indexed by attempt and clamped
// to the last entry once exhausted.
var backoffLadder = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// backoffDelay returns the reconnect delay for the given attempt count.
func backoffDelay(attempt int) time.Duration {
	if attempt >= len(backoffLadder) {
		return backoffLadder[len(backoffLadder)-1]
	}
	return backoffLadder[attempt]
}

// Agent is the per-viewer connection lifecycle. All mutable state lives in
// one struct guarded by a single mutex; writes to the transport happen under
// that mutex, so the transport never sees concurrent writers.
type Agent struct {
	url    string
	dialer *websocket.Dialer
	clock  clockwork.Clock

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	userID         string
	subs           map[events.Subscription]struct{}
	attempt        int
	reconnectTimer clockwork.Timer
	closed         bool

	events chan events.Event
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock injects the clock used for reconnect timers.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Agent) { a.clock = clock }
}

// WithDialer injects the WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(a *Agent) { a.dialer = dialer }
}

// New creates an agent for the relay at url (e.g. "ws://localhost:8081/ws").
// Call Start to open the connection.
func New(url string, opts ...Option) *Agent {
	a := &Agent{
		url:    url,
		dialer: websocket.DefaultDialer,
		clock:  clockwork.NewRealClock(),
		state:  StateDisconnected,
		subs:   make(map[events.Subscription]struct{}),
		events: make(chan events.Event, 64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start opens the connection in the background. The agent keeps reconnecting
// on any failure until Close is called.
func (a *Agent) Start() {
	go a.connect()
}

// Events returns the stream of parsed server messages. Delivery is
// best-effort: if the consumer lags, older events are dropped.
func (a *Agent) Events() <-chan events.Event {
	return a.events
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Authenticate associates the user with the connection, now and after every
// reconnect.
func (a *Agent) Authenticate(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userID = userID
	a.sendLocked(events.ClientMessage{Type: events.MessageTypeAuth, UserID: userID})
}

// Subscribe adds the target to the tracked set and, when connected, tells
// the server immediately. While disconnected the set alone is updated; it is
// replayed on the next successful connect.
func (a *Agent) Subscribe(sub events.Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs[sub] = struct{}{}
	a.sendLocked(events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: sub.Wire()})
}

// Unsubscribe removes the target from the tracked set and, when connected,
// tells the server.
func (a *Agent) Unsubscribe(sub events.Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subs, sub)
	a.sendLocked(events.ClientMessage{Type: events.MessageTypeUnsubscribe, AuctionID: sub.Wire()})
}

// Ping sends an application-level liveness probe; the server answers with a
// PONG event.
func (a *Agent) Ping() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendLocked(events.ClientMessage{Type: events.MessageTypePing})
}

// Close tears the agent down: the pending reconnect timer (the agent's only
// cancellable operation) is stopped and no further reconnects are scheduled.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true

	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.state = StateDisconnected
}

// sendLocked writes a control message if currently connected; while
// disconnected it is a silent no-op. Callers must hold a.mu.
func (a *Agent) sendLocked(msg events.ClientMessage) {
	if a.state != StateConnected || a.conn == nil {
		return
	}
	if err := a.conn.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Str("type", string(msg.Type)).Msg("failed to send message")
	}
}

func (a *Agent) connect() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.state = StateConnecting
	a.mu.Unlock()

	conn, _, err := a.dialer.Dial(a.url, nil)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		a.state = StateError
		a.mu.Unlock()
		log.Warn().Err(err).Str("url", a.url).Msg("WebSocket connect failed")
		a.scheduleReconnect()
		return
	}

	a.conn = conn
	a.state = StateConnected
	a.attempt = 0

	// Rebuild server-side state from local memory: identity first, then
	// every tracked subscription including the wildcard.
	if a.userID != "" {
		a.sendLocked(events.ClientMessage{Type: events.MessageTypeAuth, UserID: a.userID})
	}
	for sub := range a.subs {
		a.sendLocked(events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: sub.Wire()})
	}
	a.mu.Unlock()

	log.Info().Str("url", a.url).Msg("WebSocket connected")

	go a.readLoop(conn)
}

// readLoop consumes server messages until the transport fails, then moves
// the agent to disconnected and schedules a reconnect. Close and error are
// treated identically.
func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			if a.closed || a.conn != conn {
				a.mu.Unlock()
				return
			}
			a.conn = nil
			a.state = StateDisconnected
			a.mu.Unlock()

			log.Warn().Err(err).Msg("WebSocket disconnected")
			a.scheduleReconnect()
			return
		}

		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Msg("dropping unparseable server message")
			continue
		}

		select {
		case a.events <- ev:
		default:
			// Consumer is lagging; keep only the freshest events.
			select {
			case <-a.events:
			default:
			}
			select {
			case a.events <- ev:
			default:
			}
		}
	}
}

// scheduleReconnect arms the backoff timer. At most one timer is ever
// pending; the attempt counter increments when the reconnect actually runs
// and resets only on a successful open.
func (a *Agent) scheduleReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.reconnectTimer != nil {
		return
	}

	delay := backoffDelay(a.attempt)
	log.Info().Dur("delay", delay).Int("attempt", a.attempt).Msg("scheduling reconnect")

	a.reconnectTimer = a.clock.AfterFunc(delay, func() {
		a.mu.Lock()
		a.reconnectTimer = nil
		if a.closed {
			a.mu.Unlock()
			return
		}
		a.attempt++
		a.mu.Unlock()
		a.connect()
	})
}
