package gamesession

import "time"

const (
	// DefaultSessionExpiry is how long a session may sit idle before it expires.
	DefaultSessionExpiry = 3600 * time.Second

	// MaxIDAttempts bounds regeneration of a colliding session ID.
	MaxIDAttempts = 5
)

// JoinResult is returned when a device joins a session
type JoinResult struct {
	GameStarted         bool
	AssignedDeviceIndex int
}

// StartResult is returned by StartGame
type StartResult struct {
	WasAlreadyRunning bool
	GameStarted       bool
}

// Stats summarizes the registry
type Stats struct {
	Sessions        int `json:"sessions"`
	StartedSessions int `json:"started_sessions"`
	ExpiredSessions int `json:"expired_sessions"`
}
