package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/events"
)

// Handler exposes the hub's HTTP surface: the WebSocket upgrade endpoint,
// the event-ingress endpoint used by the ledger and sweeper, and liveness.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Routes returns the relay's HTTP handler with permissive CORS, matching the
// cross-origin broadcast calls the ledger service makes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// RegisterRoutes registers the relay endpoints on an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.hub.HandleWebSocket)
	mux.HandleFunc("/broadcast", h.handleBroadcast)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/stats", h.handleStats)
}

// handleBroadcast accepts an event envelope and hands it to the hub. The
// response only acknowledges acceptance; fan-out is asynchronous and
// best-effort.
func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var ev events.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		log.Warn().Err(err).Msg("rejecting malformed broadcast request")
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid JSON"})
		return
	}
	if ev.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "missing event type"})
		return
	}

	log.Info().Str("event_type", string(ev.Type)).Str("auction_id", ev.AuctionID).Msg("received broadcast request")
	h.hub.Publish(ev)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_connections":%d}`, h.hub.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
