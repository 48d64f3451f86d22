package gamesession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/multigolf/go/internal/gamesession/events"
	"github.com/rs/zerolog/log"
)

// SessionsApp defines what the query service needs from the session application
type SessionsApp interface {
	CreateSession(ctx context.Context) (string, error)
	JoinSession(ctx context.Context, id string) (*JoinResult, error)
	GameStarted(ctx context.Context, id string) (bool, error)
	StartGame(ctx context.Context, id string) (*StartResult, error)
	Stats(ctx context.Context) Stats
}

// StartNotifier is told when a session's game actually starts
type StartNotifier interface {
	NotifyGameStarted(sessionID string)
}

// Service serves the request/response query surface over HTTP
type Service struct {
	app      SessionsApp
	notifier StartNotifier
}

// NewService creates a new query service. notifier may be nil.
func NewService(app SessionsApp, notifier StartNotifier) *Service {
	return &Service{
		app:      app,
		notifier: notifier,
	}
}

// RegisterRoutes registers the query routes with an HTTP mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.HandleIndex)
	mux.HandleFunc("GET /create_game_session", s.HandleCreateSession)
	mux.HandleFunc("GET /game_started/{session_id}", s.HandleGameStarted)
	mux.HandleFunc("GET /join_game_session/{session_id}", s.HandleJoinSession)
	mux.HandleFunc("GET /start_game/{session_id}", s.HandleStartGame)
	mux.HandleFunc("POST /start_game/{session_id}", s.HandleStartGame)
	mux.HandleFunc("GET /api/sessions/stats", s.HandleStats)
}

// HandleIndex handles GET /
func (s *Service) HandleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"response": "Multi golf is alive and well..."})
}

// HandleCreateSession handles GET /create_game_session
func (s *Service) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.app.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, events.CreatedPayload{Created: true, SessionID: id})
}

// HandleGameStarted handles GET /game_started/{session_id}
func (s *Service) HandleGameStarted(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	started, err := s.app.GameStarted(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, events.GameStartedQueryPayload{SessionExists: true, GameStarted: started})
}

// HandleJoinSession handles GET /join_game_session/{session_id}
func (s *Service) HandleJoinSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	result, err := s.app.JoinSession(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, events.JoinedPayload{
		SessionExists:       true,
		GameStarted:         result.GameStarted,
		AssignedDeviceIndex: result.AssignedDeviceIndex,
	})
}

// HandleStartGame handles GET and POST /start_game/{session_id}
func (s *Service) HandleStartGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	result, err := s.app.StartGame(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	if !result.WasAlreadyRunning && s.notifier != nil {
		s.notifier.NotifyGameStarted(id)
	}
	writeJSON(w, http.StatusOK, events.StartGamePayload{
		WasAlreadyRunning: result.WasAlreadyRunning,
		GameStarted:       result.GameStarted,
	})
}

// HandleStats handles GET /api/sessions/stats
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Stats(r.Context()))
}

// writeError answers missing sessions with the structured not-found body and
// anything else with a 500
func (s *Service) writeError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		log.Debug().Str("session_id", sessionID).Msg("session not found or expired")
		writeJSON(w, http.StatusOK, events.NewSessionNotFound(sessionID))
		return
	}

	log.Error().Err(err).Str("session_id", sessionID).Msg("session request failed")
	writeJSON(w, http.StatusInternalServerError, events.ErrorPayload{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
