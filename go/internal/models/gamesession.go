package models

import (
	"encoding/json"
	"time"
)

// GameSession is one multiplayer match shared by a set of devices.
type GameSession struct {
	ID          string `json:"id"`
	GameStarted bool   `json:"game_started"`
	// DeviceCount is the ordinal handed to the next joining device.
	DeviceCount    int               `json:"device_count"`
	LastActivityAt *time.Time        `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Updates        []json.RawMessage `json:"updates"`
	PathEvents     []json.RawMessage `json:"path_events"`
}

// NewGameSession returns a session in its initial state.
func NewGameSession(id string, createdAt time.Time) *GameSession {
	return &GameSession{
		ID:          id,
		GameStarted: false,
		DeviceCount: 1,
		CreatedAt:   createdAt,
		Updates:     []json.RawMessage{},
		PathEvents:  []json.RawMessage{},
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastActivityAt != nil {
		t := *s.LastActivityAt
		out.LastActivityAt = &t
	}
	out.Updates = CloneRecords(s.Updates)
	out.PathEvents = CloneRecords(s.PathEvents)
	return &out
}

// CloneRecords copies a slice of opaque records, including their bytes.
func CloneRecords(records []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, r := range records {
		out[i] = append(json.RawMessage(nil), r...)
	}
	return out
}
