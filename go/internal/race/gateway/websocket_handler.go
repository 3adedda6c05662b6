package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// RoomLookup is the part of the durable store the gateway reads.
type RoomLookup interface {
	GetRoom(ctx context.Context, code string) (*models.Race, error)
}

// WebSocketHandler handles WebSocket upgrade requests for race rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             RoomLookup
}

// NewWebSocketHandler builds the handler. A nil rooms skips the existence
// check.
func NewWebSocketHandler(cm *ConnectionManager, rooms RoomLookup) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             rooms,
	}
}

// HandleRaceConnection upgrades /ws/race?room=CODE&client_id=ID&name=NAME.
func (h *WebSocketHandler) HandleRaceConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	room := strings.ToUpper(strings.TrimSpace(query.Get("room")))
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	clientID := strings.TrimSpace(query.Get("client_id"))
	if clientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	name := query.Get("name")
	if name == "" {
		name = clientID
	}

	if h.rooms != nil {
		if _, err := h.rooms.GetRoom(r.Context(), room); err != nil {
			if errors.Is(err, racesync.ErrRoomNotFound) {
				http.Error(w, "race not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("race_code", room).Msg("failed to look up race")
			http.Error(w, "failed to look up race", http.StatusBadGateway)
			return
		}
	}

	if err := h.connectionManager.UpgradeConnection(w, r, room, clientID, name); err != nil {
		// The upgrader has already written an HTTP error when the handshake
		// itself failed.
		log.Error().
			Err(err).
			Str("race_code", room).
			Str("client_id", clientID).
			Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/race", h.HandleRaceConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
