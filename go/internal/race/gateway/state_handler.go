package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/racesync"
)

// StateProvider reads what a reconnecting client needs to rebuild its view.
type StateProvider interface {
	GetRoom(ctx context.Context, code string) (*models.Race, error)
	ListParticipants(ctx context.Context, code string) ([]models.Participant, error)
}

// PresenceReader lists who is currently in a room.
type PresenceReader interface {
	PresenceSnapshot(ctx context.Context, room string) ([]racesync.Member, error)
}

// RoomStateResponse is the REST view of one room
type RoomStateResponse struct {
	Race         *models.Race         `json:"race"`
	Participants []models.Participant `json:"participants"`
	Roster       []racesync.Member    `json:"roster"`
	Connections  int                  `json:"connections"` // on this gateway instance
}

type StateHandler struct {
	state    StateProvider
	presence PresenceReader
	cm       *ConnectionManager
}

func NewStateHandler(state StateProvider, presence PresenceReader, cm *ConnectionManager) *StateHandler {
	return &StateHandler{state: state, presence: presence, cm: cm}
}

// HandleGetRoomState serves GET /api/races/{code}/state.
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.PathValue("code"))
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	race, err := h.state.GetRoom(ctx, code)
	if err != nil {
		h.writeError(w, code, err)
		return
	}
	participants, err := h.state.ListParticipants(ctx, code)
	if err != nil {
		h.writeError(w, code, err)
		return
	}

	resp := RoomStateResponse{
		Race:         race,
		Participants: participants,
		Roster:       []racesync.Member{},
		Connections:  h.cm.RoomConnections(code),
	}
	if h.presence != nil {
		roster, err := h.presence.PresenceSnapshot(ctx, code)
		if err != nil {
			log.Warn().Err(err).Str("race_code", code).Msg("failed to read presence for room state")
		} else if roster != nil {
			resp.Roster = roster
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("race_code", code).Msg("failed to encode room state")
	}
}

func (h *StateHandler) writeError(w http.ResponseWriter, code string, err error) {
	if errors.Is(err, racesync.ErrRoomNotFound) {
		http.Error(w, "race not found", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("race_code", code).Msg("failed to load room state")
	http.Error(w, "failed to load room state", http.StatusBadGateway)
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/races/{code}/state", h.HandleGetRoomState)
}
