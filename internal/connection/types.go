package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrDisconnected     = errors.New("disconnected by client")
	ErrConnectionLost   = errors.New("connection lost")
	ErrOperationPending = errors.New("identical operation already pending")
	ErrTimeout          = errors.New("operation timeout")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrConnectAborted   = errors.New("connect aborted")
)

// ConnectionError reports a socket that failed before reaching the open
// state.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError carries the message of a server error frame that rejected a
// subscribe or unsubscribe call.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "server error: " + e.Message
}

// CloseError describes why a socket closed.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("websocket closed (%d)", e.Code)
	}
	return fmt.Sprintf("websocket closed (%d): %s", e.Code, e.Text)
}

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is a raw inbound message with its local receive time.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a single websocket client.
type ClientConfig struct {
	URL              string        // full wire URL, token included
	HandshakeTimeout time.Duration // dial handshake deadline
	WriteTimeout     time.Duration // write deadline for sends
	BufferSize       int           // inbound frame channel size
}

// Config configures a Manager. It is copied at construction and never
// changes afterwards.
type Config struct {
	URL   string
	Token string

	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectMultiplier  float64       // 1 keeps the interval fixed
	ReconnectMaxInterval time.Duration // cap for a growing interval, 0 = none

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration // 0 = 2x interval, negative disables

	SubscribeTimeout time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// DefaultConfig returns sensible defaults. URL and Token must still be set.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectMultiplier:  1,
		HeartbeatInterval:    30 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           256,
	}
}

// withDefaults fills zero durations and sizes. MaxReconnectAttempts is
// taken as given; zero disables reconnection.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = d.ReconnectMultiplier
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 2 * c.HeartbeatInterval
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}
