package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Service is the relay gateway: it accepts device connections, relays their
// events to session rooms and optionally bridges rooms to NATS
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	relay             *Relay
	eventConsumer     *EventConsumer
}

// Config holds configuration for the relay gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	BusConfig        BusConfig
}

// DefaultConfig returns default configuration for the relay gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		BusConfig:        DefaultBusConfig(),
	}
}

// NewService creates a new relay gateway service
func NewService(config Config, app SessionApp, metrics MetricsCollector) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, metrics)

	var mirror EventMirror = NoOpMirror{}
	var nc *nats.Conn
	if config.BusConfig.Enabled() {
		var err error
		nc, err = ConnectNATS(config.BusConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS bridge: %w", err)
		}
		mirror = NewNATSMirror(nc, config.BusConfig.SubjectPrefix)
	}

	relay := NewRelay(app, connectionManager, mirror, metrics)

	var eventConsumer *EventConsumer
	if nc != nil {
		eventConsumer = NewEventConsumer(nc, relay, config.BusConfig)
	}

	connectionManager.SetHandler(relay)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		relay:             relay,
		eventConsumer:     eventConsumer,
	}, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("nats_bridge", s.eventConsumer != nil).Msg("starting relay gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("relay gateway service shutting down")
	return s.Stop()
}

// Stop shuts down the NATS bridge, if any
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}

	log.Info().Msg("relay gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay gateway routes registered")
}

// NotifyGameStarted broadcasts the game start to the session's room
func (s *Service) NotifyGameStarted(sessionID string) {
	s.relay.NotifyGameStarted(sessionID)
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "relay_gateway"
	stats["nats_bridge"] = s.eventConsumer != nil
	return stats
}
