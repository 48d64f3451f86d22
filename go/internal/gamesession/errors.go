package gamesession

import "errors"

// ErrSessionNotFound is returned when a session is missing or has expired.
// The two cases are deliberately indistinguishable to callers.
var ErrSessionNotFound = errors.New("session not found or expired")
