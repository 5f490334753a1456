package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbid/flashbid/internal/events"
)

func newTestRelay(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(hub).Routes())
	t.Cleanup(srv.Close)
	return hub, srv
}

// dialWS opens a client connection and consumes the greeting.
func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	greeting := readEvent(t, conn)
	require.Equal(t, events.EventTypeConnected, greeting.Type)
	require.Equal(t, "Connected to FlashBid relay", greeting.Message)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg events.ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// syncPing round-trips a PING so every message written before it is known to
// have been applied by the read pump.
func syncPing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypePing})
	require.Equal(t, events.EventTypePong, readEvent(t, conn).Type)
}

func TestHub_PingPong(t *testing.T) {
	_, srv := newTestRelay(t)
	conn := dialWS(t, srv)

	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypePing})
	assert.Equal(t, events.EventTypePong, readEvent(t, conn).Type)
}

func TestHub_SubscriptionFanOut(t *testing.T) {
	hub, srv := newTestRelay(t)

	watchingA := dialWS(t, srv)
	watchingB := dialWS(t, srv)

	sendMessage(t, watchingA, events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: "auction-a"})
	sendMessage(t, watchingB, events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: "auction-b"})
	syncPing(t, watchingA)
	syncPing(t, watchingB)

	now := time.Now()
	hub.Publish(events.BidPlaced("auction-a", 105, "B1", "Alice", now))
	// The untagged marker goes to everyone and bounds what B should receive.
	hub.Publish(events.Event{Type: events.EventTypeAuctionUpdated})

	ev := readEvent(t, watchingA)
	assert.Equal(t, events.EventTypeBidPlaced, ev.Type)
	assert.Equal(t, "auction-a", ev.AuctionID)
	assert.Equal(t, 105.0, ev.NewPrice)

	// B never sees auction-a traffic; its next message is the marker.
	ev = readEvent(t, watchingB)
	assert.Equal(t, events.EventTypeAuctionUpdated, ev.Type)
}

func TestHub_WildcardReceivesEverything(t *testing.T) {
	hub, srv := newTestRelay(t)
	conn := dialWS(t, srv)

	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: events.Wildcard})
	syncPing(t, conn)

	hub.Publish(events.BidPlaced("auction-a", 105, "B1", "", time.Now()))
	hub.Publish(events.BidPlaced("auction-b", 42, "B2", "", time.Now()))

	assert.Equal(t, "auction-a", readEvent(t, conn).AuctionID)
	assert.Equal(t, "auction-b", readEvent(t, conn).AuctionID)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, srv := newTestRelay(t)
	conn := dialWS(t, srv)

	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: "auction-a"})
	syncPing(t, conn)

	hub.Publish(events.BidPlaced("auction-a", 105, "B1", "", time.Now()))
	require.Equal(t, events.EventTypeBidPlaced, readEvent(t, conn).Type)

	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypeUnsubscribe, AuctionID: "auction-a"})
	syncPing(t, conn)

	hub.Publish(events.BidPlaced("auction-a", 120, "B2", "", time.Now()))
	hub.Publish(events.Event{Type: events.EventTypeAuctionUpdated})

	// The auction-a event is filtered out after unsubscribing.
	assert.Equal(t, events.EventTypeAuctionUpdated, readEvent(t, conn).Type)
}

func TestHub_UntaggedEventGoesToAll(t *testing.T) {
	hub, srv := newTestRelay(t)

	// No subscriptions at all.
	conn := dialWS(t, srv)
	syncPing(t, conn)

	hub.Publish(events.Event{Type: events.EventTypeAuctionUpdated, Message: "maintenance"})

	ev := readEvent(t, conn)
	assert.Equal(t, events.EventTypeAuctionUpdated, ev.Type)
	assert.Equal(t, "maintenance", ev.Message)
}

func TestHub_MalformedMessageKeepsConnection(t *testing.T) {
	hub, srv := newTestRelay(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))

	// The connection stays registered and fully functional.
	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: "auction-a"})
	syncPing(t, conn)

	hub.Publish(events.BidPlaced("auction-a", 105, "B1", "", time.Now()))
	assert.Equal(t, events.EventTypeBidPlaced, readEvent(t, conn).Type)
	assert.Equal(t, 1, hub.Stats())
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, srv := newTestRelay(t)
	conn := dialWS(t, srv)
	syncPing(t, conn)
	require.Equal(t, 1, hub.Stats())

	conn.Close()

	require.Eventually(t, func() bool { return hub.Stats() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_EnqueueRacingUnregister(t *testing.T) {
	hub := NewHub(DefaultConfig())
	payload := []byte(`{"type":"PONG"}`)

	for i := 0; i < 1000; i++ {
		conn := &Connection{
			id:   "conn-under-test",
			hub:  hub,
			send: make(chan []byte, 1),
			done: make(chan struct{}),
			subs: make(map[events.Subscription]struct{}),
		}
		hub.register(conn)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conn.enqueue(payload)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.unregister(conn)
		}()
		wg.Wait()

		// After teardown an enqueue is a quiet no-op, never a panic and never
		// a full-buffer report that would trigger another unregister.
		assert.True(t, conn.enqueue(payload))
	}
	assert.Equal(t, 0, hub.Stats())
}

func TestHub_BroadcastDuringDisconnectChurn(t *testing.T) {
	hub, srv := newTestRelay(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish(events.Event{Type: events.EventTypeAuctionUpdated})
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()

	// Connections dropping mid-broadcast must never take the hub down.
	for i := 0; i < 30; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		conn.Close()
	}
	close(stop)
	wg.Wait()

	// The hub is still serving: a fresh connection gets a PONG, even with
	// leftover ingress traffic interleaved ahead of it.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteJSON(events.ClientMessage{Type: events.MessageTypePing}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev events.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == events.EventTypePong {
			break
		}
	}
}

func TestHandler_Broadcast(t *testing.T) {
	_, srv := newTestRelay(t)
	conn := dialWS(t, srv)
	sendMessage(t, conn, events.ClientMessage{Type: events.MessageTypeSubscribe, AuctionID: "auction-a"})
	syncPing(t, conn)

	body := `{"type":"BID_PLACED","auctionId":"auction-a","newPrice":105,"bidderId":"B1"}`
	resp, err := http.Post(srv.URL+"/broadcast", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ack map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, true, ack["success"])

	// The posted event reaches the subscriber.
	ev := readEvent(t, conn)
	assert.Equal(t, events.EventTypeBidPlaced, ev.Type)
	assert.Equal(t, "auction-a", ev.AuctionID)
}

func TestHandler_BroadcastRejectsBadRequests(t *testing.T) {
	_, srv := newTestRelay(t)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "invalid_json", method: http.MethodPost, body: "{not json", wantStatus: http.StatusBadRequest, wantError: "Invalid JSON"},
		{name: "missing_type", method: http.MethodPost, body: `{"auctionId":"a"}`, wantStatus: http.StatusBadRequest, wantError: "missing event type"},
		{name: "wrong_method", method: http.MethodGet, body: "", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+"/broadcast", bytes.NewReader([]byte(tt.body)))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantError != "" {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestHandler_Health(t *testing.T) {
	_, srv := newTestRelay(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", buf.String())
}

func TestHandler_Stats(t *testing.T) {
	_, srv := newTestRelay(t)
	conn := dialWS(t, srv)
	syncPing(t, conn)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats["total_connections"])
}
