package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mcdev12/multigolf/go/internal/gamesession"
	"github.com/mcdev12/multigolf/go/internal/gamesession/events"
	"github.com/rs/zerolog/log"
)

// SessionApp defines what the relay needs from the session application
type SessionApp interface {
	Touch(ctx context.Context, id string) error
	CheckSession(ctx context.Context, id string) error
	AppendUpdate(ctx context.Context, id string, record json.RawMessage) error
	Updates(ctx context.Context, id string) ([]json.RawMessage, error)
	AppendPathEvent(ctx context.Context, id string, record json.RawMessage) error
	PathEvents(ctx context.Context, id string) ([]json.RawMessage, error)
}

// Rooms is the publish/subscribe primitive the relay fans out through
type Rooms interface {
	Subscribe(conn *Connection, sessionID string) error
	BroadcastToSession(sessionID string, msg *Message)
	SendToConnection(conn *Connection, msg *Message)
}

// Relay handles the real-time events devices send over their connections
type Relay struct {
	app     SessionApp
	rooms   Rooms
	mirror  EventMirror
	metrics MetricsCollector
}

// NewRelay creates a new relay. mirror and metrics may be nil.
func NewRelay(app SessionApp, rooms Rooms, mirror EventMirror, metrics MetricsCollector) *Relay {
	if mirror == nil {
		mirror = NoOpMirror{}
	}
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Relay{
		app:     app,
		rooms:   rooms,
		mirror:  mirror,
		metrics: metrics,
	}
}

var _ MessageHandler = (*Relay)(nil)

// HandleMessage dispatches one inbound frame
func (r *Relay) HandleMessage(ctx context.Context, conn *Connection, raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("dropping malformed frame")
		r.sendError(conn, "malformed message")
		return
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("event_type", msg.Event).
		Msg("received client message")

	switch msg.Event {
	case events.Login:
		r.handleLogin(ctx, conn, msg.Data)
	case events.Update:
		r.handleUpdate(ctx, conn, msg.Data)
	case events.StartPathDetermination:
		r.handleStartPath(ctx, conn, msg.Data)
	case events.FinishPathDetermination:
		r.handleFinishPath(ctx, conn, msg.Data)
	case events.PathNewTouch, events.PathNewTouchRelease:
		r.handlePathTouch(ctx, conn, msg.Event, msg.Data)
	default:
		r.sendError(conn, "unknown event: "+msg.Event)
	}
}

// HandleDisconnect is called once a connection's read side has closed.
// Session state is untouched; device ordinals are never reclaimed.
func (r *Relay) HandleDisconnect(conn *Connection) {
	log.Info().
		Str("connection_id", conn.ID).
		Msg("device disconnected")
}

// handleLogin joins the connection to the session's room and tells the whole
// room, the joiner included, along with the replay log
func (r *Relay) handleLogin(ctx context.Context, conn *Connection, data json.RawMessage) {
	const reply = events.ConnectedToGameSession

	sessionID, ok := parseSessionID(data)
	if !ok {
		r.nack(conn, reply, sessionID, nil)
		return
	}
	if err := r.app.Touch(ctx, sessionID); err != nil {
		r.nack(conn, reply, sessionID, err)
		return
	}

	if err := r.rooms.Subscribe(conn, sessionID); err != nil {
		log.Info().Err(err).
			Str("connection_id", conn.ID).
			Str("session_id", sessionID).
			Msg("login rejected")
		r.sendError(conn, err.Error())
		return
	}

	// Snapshot after subscribing so no update falls between the two.
	updates, err := r.app.Updates(ctx, sessionID)
	if err != nil {
		r.nack(conn, reply, sessionID, err)
		return
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Int("updates", len(updates)).
		Msg("device logged in to game session")

	r.broadcast(ctx, sessionID, reply, events.ConnectedPayload{
		SessionID:         sessionID,
		GameSessionExists: true,
		Updates:           updates,
	})
}

// handleUpdate logs the update and echoes it to the whole room, sender included
func (r *Relay) handleUpdate(ctx context.Context, conn *Connection, data json.RawMessage) {
	sessionID, ok := parseSessionID(data)
	if !ok {
		r.nack(conn, events.Update, sessionID, nil)
		return
	}
	if err := r.relayUpdate(ctx, sessionID, data); err != nil {
		r.nack(conn, events.Update, sessionID, err)
	}
}

// InjectUpdate applies an update that did not come from a device connection
func (r *Relay) InjectUpdate(ctx context.Context, sessionID string, data json.RawMessage) error {
	return r.relayUpdate(ctx, sessionID, data)
}

func (r *Relay) relayUpdate(ctx context.Context, sessionID string, data json.RawMessage) error {
	if err := r.app.AppendUpdate(ctx, sessionID, data); err != nil {
		return err
	}
	r.broadcast(ctx, sessionID, events.Update, data)
	return nil
}

func (r *Relay) handleStartPath(ctx context.Context, conn *Connection, data json.RawMessage) {
	const event = events.StartPathDetermination

	sessionID, ok := parseSessionID(data)
	if !ok {
		r.nack(conn, event, sessionID, nil)
		return
	}
	if err := r.app.CheckSession(ctx, sessionID); err != nil {
		r.nack(conn, event, sessionID, err)
		return
	}
	r.broadcast(ctx, sessionID, event, events.StartPathPayload{SessionID: sessionID})
}

// handleFinishPath flushes every touch recorded so far to the room
func (r *Relay) handleFinishPath(ctx context.Context, conn *Connection, data json.RawMessage) {
	const event = events.FinishPathDetermination

	sessionID, ok := parseSessionID(data)
	if !ok {
		r.nack(conn, event, sessionID, nil)
		return
	}
	pathEvents, err := r.app.PathEvents(ctx, sessionID)
	if err != nil {
		r.nack(conn, event, sessionID, err)
		return
	}
	r.broadcast(ctx, sessionID, event, events.FinishPathPayload{
		SessionID:  sessionID,
		PathEvents: pathEvents,
	})
}

// handlePathTouch records a touch sample without broadcasting it
func (r *Relay) handlePathTouch(ctx context.Context, conn *Connection, event string, data json.RawMessage) {
	sessionID, ok := parseSessionID(data)
	if !ok {
		r.nack(conn, event, sessionID, nil)
		return
	}
	if err := r.app.AppendPathEvent(ctx, sessionID, data); err != nil {
		r.nack(conn, event, sessionID, err)
	}
}

// NotifyGameStarted tells the session's room that its game has started
func (r *Relay) NotifyGameStarted(sessionID string) {
	r.broadcast(context.Background(), sessionID, events.GameStarted, events.GameStartedPayload{
		SessionID:   sessionID,
		GameStarted: true,
	})
}

func (r *Relay) broadcast(ctx context.Context, sessionID, event string, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to build broadcast")
		return
	}

	r.rooms.BroadcastToSession(sessionID, msg)
	r.metrics.RecordEventRelayed(event)

	if err := r.mirror.Publish(ctx, sessionID, msg); err != nil {
		log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("event_type", event).
			Msg("failed to mirror event")
	}
}

// nack privately tells the sender its session is missing or expired
func (r *Relay) nack(conn *Connection, event, sessionID string, err error) {
	if err != nil && !errors.Is(err, gamesession.ErrSessionNotFound) {
		log.Error().Err(err).
			Str("connection_id", conn.ID).
			Str("session_id", sessionID).
			Str("event_type", event).
			Msg("relay operation failed")
	}

	msg, buildErr := NewMessage(event, events.NewSessionNotFound(sessionID))
	if buildErr != nil {
		log.Error().Err(buildErr).Msg("failed to build negative acknowledgement")
		return
	}
	r.rooms.SendToConnection(conn, msg)
	r.metrics.RecordNegativeAck(event)
}

func (r *Relay) sendError(conn *Connection, text string) {
	msg, err := NewMessage(events.Error, events.ErrorPayload{Error: text})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error message")
		return
	}
	r.rooms.SendToConnection(conn, msg)
}

// parseSessionID reads the session key from an inbound payload. ok is false
// when the payload is not a JSON object or names no session.
func parseSessionID(data json.RawMessage) (string, bool) {
	var ref events.SessionRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", false
	}
	id := ref.ID()
	return id, id != ""
}
