// Package protocol defines the JSON wire format spoken with the sync server.
//
// Every frame is an Envelope {"type": ..., "data": {...}}. The client sends
// subscribe, unsubscribe and ping; the server answers with the remaining
// types below.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	TypeConnectionEstablished   = "connection_established"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeSubscriptionData        = "subscription_data"
	TypePong                    = "pong"
	TypeError                   = "error"
)

// Close codes.
const (
	CloseNormal           = 1000
	CloseAbnormal         = 1006
	CloseHeartbeatTimeout = 4000
)

// Envelope is a single wire frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type. A nil data
// produces an empty object.
func NewEnvelope(typ string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: typ, Data: json.RawMessage("{}")}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// Decode parses a raw frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Encode serializes an envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	return json.Marshal(e)
}

// Unmarshal decodes the envelope data into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}

// ConnectionEstablished is the data of a connection_established frame.
type ConnectionEstablished struct {
	ConnectionID string          `json:"connectionId"`
	User         json.RawMessage `json:"user,omitempty"`
}

// SubscriptionData is the data of a subscription_data frame.
type SubscriptionData struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Ping is the data of a ping frame.
type Ping struct {
	Timestamp string `json:"timestamp"`
}

// Pong is the data of a pong frame.
type Pong struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ErrorData is the data of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}
