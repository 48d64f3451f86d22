package events

import "encoding/json"

// Payload types shared between the query service and the gateway

// Event names carried in the "event" field of relay frames
const (
	Login                   = "login"
	Update                  = "update"
	StartPathDetermination  = "start_path_determination"
	FinishPathDetermination = "finish_path_determination"
	PathNewTouch            = "path_new_touch"
	PathNewTouchRelease     = "path_new_touch_release"

	ConnectedToGameSession = "connected_to_game_session"
	GameStarted            = "game_started"
	Error                  = "error"
)

// SessionNotFoundMessage is the error text of every negative acknowledgement
const SessionNotFoundMessage = "session not found or expired"

// SessionNotFoundPayload is the negative acknowledgement for an unknown or expired session
type SessionNotFoundPayload struct {
	SessionExists bool   `json:"session_exists"`
	Error         string `json:"error"`
	SessionID     string `json:"session_id"`
}

// NewSessionNotFound builds the negative acknowledgement for sessionID
func NewSessionNotFound(sessionID string) SessionNotFoundPayload {
	return SessionNotFoundPayload{
		SessionExists: false,
		Error:         SessionNotFoundMessage,
		SessionID:     sessionID,
	}
}

// CreatedPayload answers a create session request
type CreatedPayload struct {
	Created   bool   `json:"created"`
	SessionID string `json:"session_id"`
}

// GameStartedQueryPayload answers a game started query
type GameStartedQueryPayload struct {
	SessionExists bool `json:"session_exists"`
	GameStarted   bool `json:"game_started"`
}

// JoinedPayload answers a join session request
type JoinedPayload struct {
	SessionExists       bool `json:"session_exists"`
	GameStarted         bool `json:"game_started"`
	AssignedDeviceIndex int  `json:"assigned_device_index"`
}

// StartGamePayload answers a start game request
type StartGamePayload struct {
	WasAlreadyRunning bool `json:"was_already_running"`
	GameStarted       bool `json:"game_started"`
}

// SessionRef is the minimal inbound relay payload; every relay event names its session.
// GameSessionID is the key older clients send.
type SessionRef struct {
	SessionID     string `json:"session_id"`
	GameSessionID string `json:"game_session_id,omitempty"`
}

// ID returns whichever session key the client supplied
func (r SessionRef) ID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.GameSessionID
}

// ConnectedPayload is broadcast to the room when a connection logs in
type ConnectedPayload struct {
	SessionID         string            `json:"session_id"`
	GameSessionExists bool              `json:"game_session_exists"`
	Updates           []json.RawMessage `json:"updates"`
}

// StartPathPayload signals the start of path determination
type StartPathPayload struct {
	SessionID string `json:"session_id"`
}

// FinishPathPayload carries every touch recorded for the session
type FinishPathPayload struct {
	SessionID  string            `json:"session_id"`
	PathEvents []json.RawMessage `json:"path_events"`
}

// GameStartedPayload is broadcast to the room when the game starts
type GameStartedPayload struct {
	SessionID   string `json:"session_id"`
	GameStarted bool   `json:"game_started"`
}

// ErrorPayload reports a malformed or unsupported relay frame
type ErrorPayload struct {
	Error string `json:"error"`
}
