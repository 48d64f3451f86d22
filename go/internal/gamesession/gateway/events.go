package gateway

import (
	"encoding/json"
	"fmt"
)

// Message is the frame exchanged with devices in both directions
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a frame, marshalling payload into its data field.
// A json.RawMessage payload is carried verbatim.
func NewMessage(event string, payload any) (*Message, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return &Message{Event: event, Data: raw}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return &Message{Event: event, Data: data}, nil
}

// ParseMessage decodes an inbound frame
func ParseMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("message has no event")
	}
	return &msg, nil
}
