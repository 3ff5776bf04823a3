package connection

import (
	"encoding/json"
	"time"

	"github.com/bacoco/DevFlow-sub010/internal/protocol"
)

// Event names published by the Manager.
const (
	EventStateChange           = "state_change"
	EventConnectionEstablished = "connection_established"
	EventDisconnected          = "disconnected"
	EventReconnecting          = "reconnecting"
	EventReconnectionFailed    = "reconnection_failed"
	EventError                 = "error"
	EventMessage               = "message"
	EventSubscriptionData      = "subscription_data"
	TopicEventPrefix           = "topic:"
)

// StateChange is emitted on every state transition.
type StateChange struct {
	From State
	To   State
}

func (StateChange) EventName() string { return EventStateChange }

// ConnectionEstablished is emitted when the server assigns a connection id.
type ConnectionEstablished struct {
	ConnectionID string
	User         json.RawMessage
}

func (ConnectionEstablished) EventName() string { return EventConnectionEstablished }

// Disconnected is emitted whenever the socket goes away.
type Disconnected struct {
	Code   int
	Reason string
}

func (Disconnected) EventName() string { return EventDisconnected }

// Reconnecting is emitted when a reconnect attempt is scheduled.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

func (Reconnecting) EventName() string { return EventReconnecting }

// ReconnectionFailed is emitted once the attempt budget is spent.
type ReconnectionFailed struct {
	Attempts int
}

func (ReconnectionFailed) EventName() string { return EventReconnectionFailed }

// Error reports a non-fatal problem such as a malformed frame or a server
// error frame.
type Error struct {
	Message string
}

func (Error) EventName() string { return EventError }

// Message carries any inbound envelope without a dedicated handler.
type Message struct {
	Envelope protocol.Envelope
}

func (Message) EventName() string { return EventMessage }

// SubscriptionData carries a topic update.
type SubscriptionData struct {
	Topic      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

func (SubscriptionData) EventName() string { return EventSubscriptionData }

// TopicData carries only the payload of a topic update and is named after
// the topic, so listeners can register with On("topic:<name>").
type TopicData struct {
	Topic   string
	Payload json.RawMessage
}

func (e TopicData) EventName() string { return TopicEventPrefix + e.Topic }
