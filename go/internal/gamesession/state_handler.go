package gamesession

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/multigolf/go/internal/gamesession/events"
	"github.com/mcdev12/multigolf/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider defines what the state handler needs to read a session
type StateProvider interface {
	GetSession(ctx context.Context, id string) (*models.GameSession, error)
	SessionExpiry() time.Duration
}

// SessionStateResponse is a read-only snapshot of a session
type SessionStateResponse struct {
	SessionID       string     `json:"session_id"`
	SessionExists   bool       `json:"session_exists"`
	GameStarted     bool       `json:"game_started"`
	DevicesJoined   int        `json:"devices_joined"`
	NextDeviceIndex int        `json:"next_device_index"`
	UpdateCount     int        `json:"update_count"`
	PathEventCount  int        `json:"path_event_count"`
	CreatedAt       time.Time  `json:"created_at"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// StateHandler handles HTTP requests for session state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetSessionState handles GET /api/sessions/{session_id}/state
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	session, err := h.stateProvider.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeJSON(w, http.StatusOK, events.NewSessionNotFound(id))
			return
		}
		log.Error().Err(err).Str("session_id", id).Msg("failed to get session state")
		writeJSON(w, http.StatusInternalServerError, events.ErrorPayload{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, newSessionState(session, h.stateProvider.SessionExpiry()))
}

func newSessionState(s *models.GameSession, expiry time.Duration) SessionStateResponse {
	state := SessionStateResponse{
		SessionID:       s.ID,
		SessionExists:   true,
		GameStarted:     s.GameStarted,
		DevicesJoined:   s.DeviceCount - 1,
		NextDeviceIndex: s.DeviceCount,
		UpdateCount:     len(s.Updates),
		PathEventCount:  len(s.PathEvents),
		CreatedAt:       s.CreatedAt,
		LastActivityAt:  s.LastActivityAt,
	}

	// Sessions that never saw activity do not expire
	if s.LastActivityAt != nil {
		expiresAt := s.LastActivityAt.Add(expiry)
		state.ExpiresAt = &expiresAt
	}
	return state
}

// RegisterRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{session_id}/state", h.HandleGetSessionState)
}
