package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bacoco/DevFlow-sub010/internal/clock"
	"github.com/bacoco/DevFlow-sub010/internal/events"
	"github.com/bacoco/DevFlow-sub010/internal/protocol"
)

// Manager owns the socket to the sync server and drives the connection
// state machine. It publishes everything it observes on the event bus.
type Manager struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	clock  clock.Clock
	dial   Dialer

	heartbeat *Heartbeat
	reconnect *Reconnector
	registry  *Registry

	// connecting collapses concurrent Connect calls onto one dial.
	connecting singleflight.Group

	mu         sync.Mutex
	state      State
	client     Client
	gen        uint64 // bumped by every dial and by Disconnect
	connID     string
	cancelDial context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the clock driving heartbeat and reconnect timers.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg.withDefaults(),
		bus:   bus,
		clock: clock.Real(),
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "connection")

	if m.dial == nil {
		m.dial = DialClient(ClientConfig{
			HandshakeTimeout: m.cfg.HandshakeTimeout,
			WriteTimeout:     m.cfg.WriteTimeout,
			BufferSize:       m.cfg.BufferSize,
		}, m.logger)
	}

	m.heartbeat = NewHeartbeat(m.clock, m.cfg.HeartbeatInterval, m.cfg.HeartbeatTimeout,
		m.sendPing, m.heartbeatExpired, m.logger)
	m.reconnect = NewReconnector(m.clock, m.cfg.ReconnectInterval, m.cfg.ReconnectMaxInterval,
		m.cfg.ReconnectMultiplier, m.cfg.MaxReconnectAttempts)
	m.registry = NewRegistry(m.SendMessage, m.IsConnected, m.cfg.SubscribeTimeout, m.logger)

	return m
}

// WireURL returns the URL dialed for cfg: the base URL with token=<token>
// appended to its query. The parameter is always present, empty or not, and
// the rest of the query is kept byte for byte. A token already in the base
// URL is replaced.
func WireURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	param := "token=" + url.QueryEscape(token)
	var kept []string
	if u.RawQuery != "" {
		for _, part := range strings.Split(u.RawQuery, "&") {
			name, _, _ := strings.Cut(part, "=")
			if name != "token" {
				kept = append(kept, part)
			}
		}
	}
	u.RawQuery = strings.Join(append(kept, param), "&")
	return u.String(), nil
}

// Connect opens the socket. It returns nil immediately when already
// connected and shares the outcome of a dial that is already in flight.
// A failed dial is also handed to the reconnect scheduler.
func (m *Manager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	_, err, _ := m.connecting.Do("connect", func() (any, error) {
		return nil, m.open(ctx, false)
	})
	return err
}

// Disconnect closes the socket with a normal closure, cancels every timer
// and fails outstanding subscribe calls. No transition happens afterwards
// until the next Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.reconnect.Reset()
	m.heartbeat.Stop()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.gen++
	c := m.client
	m.client = nil
	m.connID = ""
	m.registry.FailPending(ErrDisconnected)
	m.registry.Clear()
	m.setStateLocked(StateDisconnected)
	m.bus.Emit(Disconnected{Code: protocol.CloseNormal, Reason: "client disconnect"})
	m.mu.Unlock()

	m.logger.Info("disconnected")

	if c != nil {
		return c.Close()
	}
	return nil
}

// SendMessage writes env to the socket. It fails with ErrNotConnected
// unless the state is CONNECTED.
func (m *Manager) SendMessage(env protocol.Envelope) error {
	m.mu.Lock()
	c := m.client
	connected := m.state == StateConnected && c != nil
	m.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := c.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Subscribe subscribes to a topic and waits for the server to confirm.
func (m *Manager) Subscribe(ctx context.Context, sub protocol.Subscription) error {
	return m.registry.Subscribe(ctx, sub)
}

// Unsubscribe cancels a subscription and waits for the server to confirm.
func (m *Manager) Unsubscribe(ctx context.Context, sub protocol.Subscription) error {
	return m.registry.Unsubscribe(ctx, sub)
}

// Subscriptions returns a snapshot of the confirmed subscriptions.
func (m *Manager) Subscriptions() []protocol.Subscription {
	return m.registry.Subscriptions()
}

// IsConnected reports whether the state is CONNECTED.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the id assigned by the server, or "" before the
// connection_established frame.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// ReconnectAttempts returns the attempts made since the last successful
// connect.
func (m *Manager) ReconnectAttempts() int {
	return m.reconnect.Attempts()
}

// open dials a new socket. fromTimer marks a scheduled reconnect attempt,
// which is dropped if the state moved on while it was pending.
func (m *Manager) open(ctx context.Context, fromTimer bool) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if fromTimer && m.state != StateReconnecting {
		m.mu.Unlock()
		return ErrConnectAborted
	}
	if !fromTimer {
		m.reconnect.Cancel()
		if m.state == StateError {
			m.reconnect.Reset()
		}
	}

	wire, err := WireURL(m.cfg.URL, m.cfg.Token)
	if err != nil {
		connErr := &ConnectionError{URL: m.cfg.URL, Err: err}
		m.setStateLocked(StateError)
		m.bus.Emit(Error{Message: connErr.Error()})
		m.mu.Unlock()
		return connErr
	}

	m.gen++
	gen := m.gen
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.logger.Debug("dialing", "url", m.cfg.URL, "reconnect", fromTimer)
	c, err := m.dial(dialCtx, wire)

	m.mu.Lock()
	cancel()
	if gen != m.gen {
		m.mu.Unlock()
		if c != nil {
			c.Close()
		}
		return ErrConnectAborted
	}
	m.cancelDial = nil

	if err != nil {
		connErr := &ConnectionError{URL: m.cfg.URL, Err: err}
		m.logger.Warn("connect failed", "error", err)
		m.bus.Emit(Error{Message: connErr.Error()})
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return connErr
	}

	m.client = c
	m.connID = ""
	m.reconnect.Reset()
	m.setStateLocked(StateConnected)
	m.heartbeat.Start()
	go m.readLoop(gen, c)
	replay := m.registry.Len() > 0
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL)

	if replay {
		m.registry.ReplayAll()
	}
	return nil
}

// readLoop dispatches frames from one socket until it closes.
func (m *Manager) readLoop(gen uint64, c Client) {
	for frame := range c.Messages() {
		if !m.current(gen) {
			continue
		}
		m.handleFrame(frame)
	}

	code, reason := protocol.CloseAbnormal, ""
	if ce := c.Err(); ce != nil {
		code, reason = ce.Code, ce.Text
	}
	m.handleClose(gen, code, reason)
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// handleClose reacts to the loss of the socket opened as generation gen.
func (m *Manager) handleClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.client == nil {
		return
	}

	m.client = nil
	m.connID = ""
	m.heartbeat.Stop()
	m.registry.FailPending(ErrConnectionLost)
	m.bus.Emit(Disconnected{Code: code, Reason: reason})

	if code == protocol.CloseNormal {
		m.logger.Info("server closed connection")
		m.setStateLocked(StateDisconnected)
		return
	}

	m.logger.Warn("connection lost", "code", code, "reason", reason)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked moves to RECONNECTING with a pending attempt, or
// to ERROR once the attempt budget is spent.
func (m *Manager) scheduleReconnectLocked() {
	attempt, delay, ok := m.reconnect.Schedule(m.reconnectNow)
	if !ok {
		m.logger.Error("reconnection failed", "attempts", attempt)
		m.setStateLocked(StateError)
		m.bus.Emit(ReconnectionFailed{Attempts: attempt})
		return
	}

	m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	m.setStateLocked(StateReconnecting)
	m.bus.Emit(Reconnecting{Attempt: attempt, Delay: delay})
}

// reconnectNow runs when a reconnect timer fires.
func (m *Manager) reconnectNow() {
	_, err, _ := m.connecting.Do("connect", func() (any, error) {
		return nil, m.open(context.Background(), true)
	})
	if err != nil {
		m.logger.Debug("reconnect attempt ended", "error", err)
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	m.bus.Emit(StateChange{From: from, To: s})

	if from == StateConnected {
		m.heartbeat.Stop()
	}
}

func (m *Manager) sendPing() error {
	env, err := protocol.NewEnvelope(protocol.TypePing, protocol.Ping{
		Timestamp: m.clock.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return m.SendMessage(env)
}

// heartbeatExpired force-closes a silent socket; the read loop then treats
// it as an abnormal closure.
func (m *Manager) heartbeatExpired() {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()

	if c != nil {
		c.CloseWithCode(protocol.CloseHeartbeatTimeout, "heartbeat timeout")
	}
}

func (m *Manager) handleFrame(frame Frame) {
	env, err := protocol.Decode(frame.Data)
	if err != nil {
		m.logger.Warn("malformed frame", "error", err)
		m.bus.Emit(Error{Message: "malformed message: " + err.Error()})
		return
	}

	switch env.Type {
	case protocol.TypeConnectionEstablished:
		var data protocol.ConnectionEstablished
		if !m.decode(env, &data) {
			return
		}
		m.mu.Lock()
		m.connID = data.ConnectionID
		m.mu.Unlock()
		m.logger.Info("connection established", "connection_id", data.ConnectionID)
		m.bus.Emit(ConnectionEstablished{ConnectionID: data.ConnectionID, User: data.User})

	case protocol.TypePong:
		m.heartbeat.Pong()

	case protocol.TypeSubscriptionConfirmed, protocol.TypeUnsubscriptionConfirmed:
		var sub protocol.Subscription
		if !m.decode(env, &sub) {
			return
		}
		kind := opSubscribe
		if env.Type == protocol.TypeUnsubscriptionConfirmed {
			kind = opUnsubscribe
		}
		if !m.registry.Confirm(kind, sub) {
			m.logger.Debug("unsolicited confirmation", "type", env.Type, "topic", sub.Topic)
		}

	case protocol.TypeError:
		var data protocol.ErrorData
		if !m.decode(env, &data) {
			return
		}
		m.registry.Reject(data.Message)
		m.logger.Warn("server error", "message", data.Message)
		m.bus.Emit(Error{Message: data.Message})

	case protocol.TypeSubscriptionData:
		var data protocol.SubscriptionData
		if !m.decode(env, &data) {
			return
		}
		m.bus.Emit(SubscriptionData{Topic: data.Topic, Payload: data.Payload, ReceivedAt: frame.ReceivedAt})
		m.bus.Emit(TopicData{Topic: data.Topic, Payload: data.Payload})

	default:
		m.bus.Emit(Message{Envelope: env})
	}
}

func (m *Manager) decode(env protocol.Envelope, v any) bool {
	if err := env.Unmarshal(v); err != nil {
		m.logger.Warn("malformed frame data", "type", env.Type, "error", err)
		m.bus.Emit(Error{Message: err.Error()})
		return false
	}
	return true
}
