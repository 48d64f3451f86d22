package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/multigolf/go/internal/gamesession/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// UpdateInjector applies updates that arrive from outside the websocket surface
type UpdateInjector interface {
	InjectUpdate(ctx context.Context, sessionID string, data json.RawMessage) error
}

// injectEnvelope is the body of a message published on the inject subject
type injectEnvelope struct {
	SessionID string          `json:"session_id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// injectReply answers request/reply publishers
type injectReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EventConsumer consumes injected updates from NATS and relays them into session rooms
type EventConsumer struct {
	nc       *nats.Conn
	injector UpdateInjector
	config   BusConfig
}

// NewEventConsumer creates a new NATS event consumer
func NewEventConsumer(nc *nats.Conn, injector UpdateInjector, config BusConfig) *EventConsumer {
	return &EventConsumer{
		nc:       nc,
		injector: injector,
		config:   config,
	}
}

// Start consumes injected events until ctx is cancelled
func (ec *EventConsumer) Start(ctx context.Context) error {
	subject := InjectSubject(ec.config.SubjectPrefix)
	log.Info().Str("subject", subject).Msg("starting NATS event consumer")

	buffer := ec.config.InjectBuffer
	if buffer <= 0 {
		buffer = 100
	}
	messageCh := make(chan *nats.Msg, buffer)

	sub, err := ec.nc.ChanSubscribe(subject, messageCh)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe event consumer")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			err := ec.processMessage(ctx, msg.Subject, msg.Data)
			if err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject).
					Msg("failed to process injected event")
			}
			if msg.Reply != "" {
				ec.reply(msg, err)
			}
		}
	}
}

// processMessage applies a single injected message
func (ec *EventConsumer) processMessage(ctx context.Context, subject string, data []byte) error {
	var envelope injectEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshal inject envelope: %w", err)
	}

	log.Debug().
		Str("session_id", envelope.SessionID).
		Str("event_type", envelope.Event).
		Str("subject", subject).
		Msg("processing injected event")

	if envelope.SessionID == "" {
		return errors.New("inject envelope has no session_id")
	}
	if envelope.Event != events.Update {
		return fmt.Errorf("unsupported injected event: %q", envelope.Event)
	}
	if len(envelope.Data) == 0 {
		return errors.New("inject envelope has no data")
	}

	if err := ec.injector.InjectUpdate(ctx, envelope.SessionID, envelope.Data); err != nil {
		return fmt.Errorf("inject update into %s: %w", envelope.SessionID, err)
	}

	log.Info().
		Str("session_id", envelope.SessionID).
		Str("subject", subject).
		Msg("injected update relayed to session")
	return nil
}

func (ec *EventConsumer) reply(msg *nats.Msg, processErr error) {
	body := injectReply{OK: processErr == nil}
	if processErr != nil {
		body.Error = processErr.Error()
	}
	data, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal inject reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Error().Err(err).Msg("failed to respond to injected event")
	}
}

// Stop closes the NATS connection
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")

	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}
