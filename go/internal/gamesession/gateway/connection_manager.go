package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyJoined is returned when a joined connection asks for a different session
	ErrAlreadyJoined = errors.New("connection already joined to another session")

	// ErrConnectionClosed is returned for connections that are no longer registered
	ErrConnectionClosed = errors.New("connection closed")
)

// MessageHandler processes frames read from a connection
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn *Connection, message []byte)
	HandleDisconnect(conn *Connection)
}

// ConnectionManager manages WebSocket connections and the per-session rooms they join
type ConnectionManager struct {
	// Every live connection, joined or not
	connections map[*Connection]bool
	// Rooms organized by session ID
	sessionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan BroadcastMessage

	handler MessageHandler
	metrics MetricsCollector
}

// Connection represents a WebSocket connection to a device
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time

	// guarded by Manager.mu
	sessionID string
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a message queued for delivery. When Target is set only
// that connection receives it, otherwise every connection in the session's room does.
type BroadcastMessage struct {
	SessionID string
	Message   *Message
	Target    *Connection
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, metrics MetricsCollector) *ConnectionManager {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = 1000
	}

	return &ConnectionManager{
		connections:        make(map[*Connection]bool),
		sessionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
		metrics:     metrics,
	}
}

// SetHandler sets the handler that receives frames read from connections
func (cm *ConnectionManager) SetHandler(handler MessageHandler) {
	cm.handler = handler
}

// Start processes queued messages until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its pumps
func (cm *ConnectionManager) UpgradeConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := cm.newConnection(conn)
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump(ctx)

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
}

// registerConnection adds an unjoined connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true
	cm.metrics.RecordConnectionOpened()

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and its room.
// It reports whether the connection was still registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return false
	}
	delete(cm.connections, conn)
	close(conn.Send)
	cm.metrics.RecordConnectionClosed()

	if connections, exists := cm.sessionConnections[conn.sessionID]; exists {
		delete(connections, conn)

		// Clean up empty rooms
		if len(connections) == 0 {
			delete(cm.sessionConnections, conn.sessionID)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.sessionID).
		Msg("connection unregistered")
	return true
}

// Subscribe adds a connection to a session's room. A connection belongs to at
// most one room for its whole life; subscribing again to the same room is a no-op.
func (cm *ConnectionManager) Subscribe(conn *Connection, sessionID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return ErrConnectionClosed
	}
	if conn.sessionID != "" && conn.sessionID != sessionID {
		return ErrAlreadyJoined
	}

	conn.sessionID = sessionID
	if cm.sessionConnections[sessionID] == nil {
		cm.sessionConnections[sessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[sessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Int("room_size", len(cm.sessionConnections[sessionID])).
		Msg("connection joined session room")
	return nil
}

// SessionOf returns the session a connection has joined, or "" when unjoined
func (cm *ConnectionManager) SessionOf(conn *Connection) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.sessionID
}

// BroadcastToSession queues a message for every connection in a session's room
func (cm *ConnectionManager) BroadcastToSession(sessionID string, msg *Message) {
	cm.enqueue(BroadcastMessage{SessionID: sessionID, Message: msg})
}

// SendToConnection queues a message for a single connection
func (cm *ConnectionManager) SendToConnection(conn *Connection, msg *Message) {
	cm.enqueue(BroadcastMessage{Message: msg, Target: conn})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		cm.metrics.RecordDroppedMessage()
		log.Warn().
			Str("session_id", message.SessionID).
			Str("event_type", message.Message.Event).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast delivers a queued message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	// Marshal the message once
	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	var slow []*Connection
	delivered := 0

	// Send is only closed under the write lock, so deliver while holding the read lock.
	cm.mu.RLock()
	if message.Target != nil {
		if cm.connections[message.Target] {
			if cm.deliver(message.Target, data) {
				delivered++
			} else {
				slow = append(slow, message.Target)
			}
		}
	} else {
		for conn := range cm.sessionConnections[message.SessionID] {
			if cm.deliver(conn, data) {
				delivered++
			} else {
				slow = append(slow, conn)
			}
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.metrics.RecordDroppedMessage()
		if cm.unregisterConnection(conn) {
			conn.close()
		}
	}

	log.Debug().
		Str("event_type", message.Message.Event).
		Str("session_id", message.SessionID).
		Bool("private", message.Target != nil).
		Int("connections", delivered).
		Msg("event delivered")
}

func (cm *ConnectionManager) deliver(conn *Connection, data []byte) bool {
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	joined := 0
	sessionCounts := make(map[string]int)

	for sessionID, connections := range cm.sessionConnections {
		count := len(connections)
		joined += count
		sessionCounts[sessionID] = count
	}

	return map[string]interface{}{
		"total_connections":   len(cm.connections),
		"joined_connections":  joined,
		"active_sessions":     len(cm.sessionConnections),
		"session_connections": sessionCounts,
	}
}

func (c *Connection) close() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading frames from the WebSocket connection and hands
// them to the manager's handler
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		if c.Manager.handler != nil {
			c.Manager.handler.HandleDisconnect(c)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(ctx, c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
