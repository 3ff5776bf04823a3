// Package coordinator turns generic subscription updates into domain
// events and keeps local changes queued while the connection is down.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bacoco/DevFlow-sub010/internal/clock"
	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/events"
	"github.com/bacoco/DevFlow-sub010/internal/protocol"
	"github.com/bacoco/DevFlow-sub010/internal/queue"
)

// isoMillis matches the ISO-8601 form used on the wire.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Connection is the part of the connection manager the coordinator uses.
type Connection interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	State() connection.State
	SendMessage(env protocol.Envelope) error
	Subscriptions() []protocol.Subscription
}

// QueuedChange is a local mutation waiting to be sent.
type QueuedChange struct {
	ID         uuid.UUID
	Type       string
	Data       any
	EnqueuedAt time.Time
}

// Status summarizes sync health for callers.
type Status struct {
	IsConnected       bool `json:"isConnected"`
	IsOnline          bool `json:"isOnline"`
	QueueSize         int  `json:"queueSize"`
	SubscriptionCount int  `json:"subscriptionCount"`
}

// Coordinator is the sync layer above the connection manager.
type Coordinator struct {
	conn   Connection
	bus    *events.Bus
	logger *slog.Logger
	clock  clock.Clock

	pending *queue.Buffer[QueuedChange]
	flushMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]any

	mu        sync.Mutex
	online    bool
	lastSync  time.Time
	listeners []uuid.UUID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithOnline sets the initial host reachability. The default is online.
func WithOnline(online bool) Option {
	return func(c *Coordinator) { c.online = online }
}

// New creates a Coordinator and attaches it to the bus.
func New(conn Connection, bus *events.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		conn:    conn,
		bus:     bus,
		clock:   clock.Real(),
		pending: queue.New[QueuedChange](16),
		cache:   make(map[string]any),
		online:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "coordinator")

	c.listeners = []uuid.UUID{
		events.Listen(bus, c.onSubscriptionData),
		events.Listen(bus, c.onStateChange),
	}
	return c
}

// Close detaches the coordinator from the bus.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ids := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, id := range ids {
		c.bus.Off(id)
	}
}

func (c *Coordinator) onSubscriptionData(ev connection.SubscriptionData) {
	m := fields(ev.Payload)

	switch ev.Topic {
	case TopicDashboardUpdated:
		c.bus.Emit(DashboardUpdated{
			DashboardID: idField(m, "dashboardId"),
			Data:        ev.Payload,
		})

	case TopicWidgetUpdated:
		c.bus.Emit(WidgetUpdated{
			WidgetID:    idField(m, "widgetId"),
			DashboardID: idField(m, "dashboardId"),
			Data:        ev.Payload,
		})

	case TopicTaskUpdated:
		taskID := idField(m, "taskId")
		switch change, _ := m["changeType"].(string); change {
		case "created":
			c.bus.Emit(TaskCreated{TaskID: taskID, Data: ev.Payload})
		case "updated":
			c.bus.Emit(TaskUpdated{TaskID: taskID, Data: ev.Payload})
		default:
			c.logger.Debug("ignoring task change", "task_id", taskID, "change_type", change)
		}

	case TopicMetricUpdated:
		c.bus.Emit(MetricUpdated{
			MetricType: idField(m, "metricType"),
			UserID:     idField(m, "userId"),
			TeamID:     idField(m, "teamId"),
			Value:      floatField(m, "value"),
			Timestamp:  timeField(m, "timestamp"),
		})
	}
}

func (c *Coordinator) onStateChange(ev connection.StateChange) {
	c.bus.Emit(SyncStatusChanged{Status: strings.ToLower(ev.To.String())})

	if ev.To != connection.StateConnected {
		return
	}
	if _, err := c.Flush(); err != nil {
		c.logger.Warn("flush after reconnect stopped", "error", err)
	}
}

// QueueDataChange appends a local change to the offline queue. Changes are
// sent by Flush, which runs on every transition into CONNECTED.
func (c *Coordinator) QueueDataChange(changeType string, data any) QueuedChange {
	item := QueuedChange{
		ID:         uuid.New(),
		Type:       changeType,
		Data:       data,
		EnqueuedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.pending.Push(item)
	size := c.pending.Len()
	c.mu.Unlock()

	c.logger.Debug("change queued", "type", changeType, "queue_size", size)
	c.bus.Emit(DataQueued{Type: changeType, Data: data, QueueSize: size})
	return item
}

// QueuedChanges returns the queued changes, oldest first.
func (c *Coordinator) QueuedChanges() []QueuedChange {
	return c.pending.Items()
}

// Flush sends queued changes in FIFO order as {type, data} envelopes. It
// stops at the first send failure, leaving that change and everything
// after it queued.
func (c *Coordinator) Flush() (int, error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if c.pending.Len() == 0 {
		return 0, nil
	}
	if !c.conn.IsConnected() {
		return 0, connection.ErrNotConnected
	}

	flushed := 0
	var flushErr error
	for {
		item, ok := c.pending.Peek()
		if !ok {
			break
		}

		env, err := protocol.NewEnvelope(item.Type, item.Data)
		if err != nil {
			c.logger.Error("dropping unencodable change", "id", item.ID, "type", item.Type, "error", err)
			c.pending.TryPop()
			continue
		}
		if err := c.conn.SendMessage(env); err != nil {
			flushErr = fmt.Errorf("flush change %s: %w", item.ID, err)
			break
		}
		c.pending.TryPop()
		flushed++
	}

	remaining := c.pending.Len()
	c.logger.Info("offline queue flushed", "flushed", flushed, "remaining", remaining)
	c.bus.Emit(QueueFlushed{Flushed: flushed, Remaining: remaining})

	if flushed > 0 {
		c.UpdateLastSyncTime()
	}
	return flushed, flushErr
}

// SetCachedData stores value under key.
func (c *Coordinator) SetCachedData(key string, value any) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = value
}

// CachedData returns the value stored under key.
func (c *Coordinator) CachedData(key string) (any, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	v, ok := c.cache[key]
	return v, ok
}

// ClearCache removes every cached entry.
func (c *Coordinator) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]any)
}

// UpdateLastSyncTime records the current time as the last sync.
func (c *Coordinator) UpdateLastSyncTime() {
	now := c.clock.Now().UTC()

	c.mu.Lock()
	c.lastSync = now
	c.mu.Unlock()

	c.bus.Emit(SyncTimeUpdated{Timestamp: now.Format(isoMillis)})
}

// LastSyncTime returns the last recorded sync time.
func (c *Coordinator) LastSyncTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// SetOnline feeds the host reachability signal. Coming back online while
// the connection is down or failed starts a connect in the background.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	c.mu.Unlock()

	if !online {
		c.logger.Info("host offline")
		c.bus.Emit(SyncStatusChanged{Status: StatusOffline})
		return
	}

	c.logger.Info("host online")
	c.bus.Emit(SyncStatusChanged{Status: StatusOnline})

	switch c.conn.State() {
	case connection.StateDisconnected, connection.StateError:
		go func() {
			if err := c.conn.Connect(context.Background()); err != nil {
				c.logger.Warn("connect after coming online failed", "error", err)
			}
		}()
	}
}

// IsOnline reports the last reachability signal.
func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// ConnectionStatus reports connection, reachability and queue state. The
// connection never counts as up while the host is offline.
func (c *Coordinator) ConnectionStatus() Status {
	online := c.IsOnline()
	return Status{
		IsConnected:       online && c.conn.IsConnected(),
		IsOnline:          online,
		QueueSize:         c.pending.Len(),
		SubscriptionCount: len(c.conn.Subscriptions()),
	}
}
