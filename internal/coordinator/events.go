package coordinator

import (
	"encoding/json"
	"time"
)

// Event names published by the Coordinator.
const (
	EventDashboardUpdated  = "dashboard_updated"
	EventWidgetUpdated     = "widget_updated"
	EventTaskCreated       = "task_created"
	EventTaskUpdated       = "task_updated"
	EventMetricUpdated     = "metric_updated"
	EventSyncStatusChanged = "sync_status_changed"
	EventDataQueued        = "data_queued"
	EventQueueFlushed      = "queue_flushed"
	EventSyncTimeUpdated   = "sync_time_updated"
)

// Topics translated into domain events.
const (
	TopicDashboardUpdated = "dashboard_updated"
	TopicWidgetUpdated    = "widget_updated"
	TopicTaskUpdated      = "task_updated"
	TopicMetricUpdated    = "metric_updated"
)

// Sync statuses carried by SyncStatusChanged.
const (
	StatusConnected    = "connected"
	StatusConnecting   = "connecting"
	StatusReconnecting = "reconnecting"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
	StatusOnline       = "online"
	StatusOffline      = "offline"
)

type DashboardUpdated struct {
	DashboardID string
	Data        json.RawMessage
	HasConflict bool // no merge step yet, always false
}

func (DashboardUpdated) EventName() string { return EventDashboardUpdated }

type WidgetUpdated struct {
	WidgetID    string
	DashboardID string
	Data        json.RawMessage
}

func (WidgetUpdated) EventName() string { return EventWidgetUpdated }

type TaskCreated struct {
	TaskID string
	Data   json.RawMessage
}

func (TaskCreated) EventName() string { return EventTaskCreated }

type TaskUpdated struct {
	TaskID string
	Data   json.RawMessage
}

func (TaskUpdated) EventName() string { return EventTaskUpdated }

type MetricUpdated struct {
	MetricType string
	UserID     string
	TeamID     string
	Value      float64
	Timestamp  time.Time
}

func (MetricUpdated) EventName() string { return EventMetricUpdated }

type SyncStatusChanged struct {
	Status string
}

func (SyncStatusChanged) EventName() string { return EventSyncStatusChanged }

type DataQueued struct {
	Type      string
	Data      any
	QueueSize int
}

func (DataQueued) EventName() string { return EventDataQueued }

// QueueFlushed reports a flush of the offline queue.
type QueueFlushed struct {
	Flushed   int
	Remaining int
}

func (QueueFlushed) EventName() string { return EventQueueFlushed }

// SyncTimeUpdated carries the new last sync time as an ISO-8601 string.
type SyncTimeUpdated struct {
	Timestamp string
}

func (SyncTimeUpdated) EventName() string { return EventSyncTimeUpdated }
