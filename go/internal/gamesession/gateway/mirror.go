package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// BusConfig holds configuration for the NATS bus bridge
type BusConfig struct {
	URL           string // empty disables the bridge
	SubjectPrefix string // e.g., "multigolf"
	MaxReconnects int
	ReconnectWait time.Duration
	InjectBuffer  int
}

// DefaultBusConfig returns default NATS bridge configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		SubjectPrefix: "multigolf",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		InjectBuffer:  100,
	}
}

// Enabled reports whether a NATS URL is configured
func (c BusConfig) Enabled() bool {
	return c.URL != ""
}

// MirrorSubject is the subject a relayed room message is mirrored to
func MirrorSubject(prefix, sessionID, event string) string {
	return fmt.Sprintf("%s.sessions.%s.%s", prefix, sessionID, event)
}

// InjectSubject is the wildcard subject the consumer listens on for injected updates
func InjectSubject(prefix string) string {
	return prefix + ".inject.>"
}

// ConnectNATS dials NATS with reconnect handling
func ConnectNATS(config BusConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("multigolf-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// EventMirror receives a copy of every message broadcast to a room
type EventMirror interface {
	Publish(ctx context.Context, sessionID string, msg *Message) error
}

// NoOpMirror drops everything
type NoOpMirror struct{}

func (NoOpMirror) Publish(ctx context.Context, sessionID string, msg *Message) error { return nil }

// Publisher is the part of *nats.Conn the mirror uses
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSMirror publishes room broadcasts to NATS so observers outside the relay
// can follow a session
type NATSMirror struct {
	publisher Publisher
	prefix    string
}

// NewNATSMirror creates a mirror publishing under prefix
func NewNATSMirror(publisher Publisher, prefix string) *NATSMirror {
	return &NATSMirror{
		publisher: publisher,
		prefix:    prefix,
	}
}

func (m *NATSMirror) Publish(ctx context.Context, sessionID string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mirrored message: %w", err)
	}

	subject := MirrorSubject(m.prefix, sessionID, msg.Event)
	if err := m.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Int("size", len(data)).
		Msg("mirrored event to NATS")
	return nil
}
