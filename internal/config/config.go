package config

import (
	"time"

	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/protocol"
)

// Config is the root configuration for a sync agent.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Recorder      RecorderConfig       `yaml:"recorder"`
	Database      DBConfig             `yaml:"database"`
	Status        StatusConfig         `yaml:"status"`
	Log           LogConfig            `yaml:"log"`
}

// ServerConfig holds the sync server endpoint and connection policy.
type ServerConfig struct {
	URL                  string        `yaml:"url"`
	Token                string        `yaml:"token"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"` // nil = default, 0 disables reconnection
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"` // negative disables
	SubscribeTimeout     time.Duration `yaml:"subscribe_timeout"`
}

// SubscriptionConfig is a topic subscribed at startup.
type SubscriptionConfig struct {
	Topic   string         `yaml:"topic"`
	Filters map[string]any `yaml:"filters"`
}

// RecorderConfig controls persisting subscription data to PostgreSQL.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Configured reports whether a database was given at all.
func (db DBConfig) Configured() bool {
	return db.Host != ""
}

// StatusConfig holds the HTTP status server settings.
type StatusConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Connection converts the server section into connection manager settings.
func (c *Config) Connection() connection.Config {
	cc := connection.DefaultConfig()
	cc.URL = c.Server.URL
	cc.Token = c.Server.Token
	cc.ReconnectInterval = c.Server.ReconnectInterval
	if c.Server.MaxReconnectAttempts != nil {
		cc.MaxReconnectAttempts = *c.Server.MaxReconnectAttempts
	}
	cc.ReconnectMultiplier = c.Server.ReconnectMultiplier
	cc.ReconnectMaxInterval = c.Server.ReconnectMaxInterval
	cc.HeartbeatInterval = c.Server.HeartbeatInterval
	cc.HeartbeatTimeout = c.Server.HeartbeatTimeout
	cc.SubscribeTimeout = c.Server.SubscribeTimeout
	return cc
}

// Topics returns the startup subscriptions.
func (c *Config) Topics() []protocol.Subscription {
	subs := make([]protocol.Subscription, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		subs = append(subs, protocol.Subscription{Topic: s.Topic, Filters: s.Filters})
	}
	return subs
}
