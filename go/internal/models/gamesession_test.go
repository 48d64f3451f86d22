package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGameSession(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewGameSession("abc", now)

	assert.Equal(t, "abc", s.ID)
	assert.False(t, s.GameStarted)
	assert.Equal(t, 1, s.DeviceCount)
	assert.Nil(t, s.LastActivityAt)
	assert.Equal(t, now, s.CreatedAt)
	assert.NotNil(t, s.Updates)
	assert.Empty(t, s.Updates)
	assert.NotNil(t, s.PathEvents)
	assert.Empty(t, s.PathEvents)
}

func TestGameSession_CloneIsDeep(t *testing.T) {
	now := time.Now()
	s := NewGameSession("abc", now)
	s.LastActivityAt = &now
	s.Updates = append(s.Updates, json.RawMessage(`{"x":1}`))
	s.PathEvents = append(s.PathEvents, json.RawMessage(`{"t":1}`))

	c := s.Clone()
	require.Equal(t, s, c)

	c.Updates[0][2] = 'y'
	c.Updates = append(c.Updates, json.RawMessage(`{}`))
	c.PathEvents = append(c.PathEvents, json.RawMessage(`{}`))
	later := now.Add(time.Minute)
	*c.LastActivityAt = later

	assert.JSONEq(t, `{"x":1}`, string(s.Updates[0]))
	assert.Len(t, s.Updates, 1)
	assert.Len(t, s.PathEvents, 1)
	assert.Equal(t, now, *s.LastActivityAt)
}

func TestGameSession_CloneNil(t *testing.T) {
	var s *GameSession
	assert.Nil(t, s.Clone())
}
