package gamesession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHandler_GetSessionState(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	app := NewApp(NewMemoryRepository(), AppConfig{SessionExpiry: time.Hour, Clock: clock})

	mux := http.NewServeMux()
	NewStateHandler(app).RegisterRoutes(mux)

	id, err := app.CreateSession(ctx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fresh SessionStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))
	assert.Equal(t, id, fresh.SessionID)
	assert.True(t, fresh.SessionExists)
	assert.Equal(t, 0, fresh.DevicesJoined)
	assert.Equal(t, 1, fresh.NextDeviceIndex)
	assert.Nil(t, fresh.LastActivityAt)
	assert.Nil(t, fresh.ExpiresAt)

	clock.Advance(time.Minute)
	_, err = app.JoinSession(ctx, id)
	require.NoError(t, err)
	require.NoError(t, app.AppendUpdate(ctx, id, json.RawMessage(`{}`)))
	require.NoError(t, app.AppendPathEvent(ctx, id, json.RawMessage(`{}`)))
	_, err = app.StartGame(ctx, id)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/state", nil))

	var active SessionStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.True(t, active.GameStarted)
	assert.Equal(t, 1, active.DevicesJoined)
	assert.Equal(t, 2, active.NextDeviceIndex)
	assert.Equal(t, 1, active.UpdateCount)
	assert.Equal(t, 1, active.PathEventCount)
	require.NotNil(t, active.ExpiresAt)
	assert.True(t, start.Add(time.Minute+time.Hour).Equal(*active.ExpiresAt))
}

func TestStateHandler_UnknownSession(t *testing.T) {
	app := NewApp(NewMemoryRepository(), AppConfig{Clock: clockwork.NewFakeClock()})
	mux := http.NewServeMux()
	NewStateHandler(app).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/ghost/state", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"session_exists":false,"error":"session not found or expired","session_id":"ghost"}`, rec.Body.String())
}
