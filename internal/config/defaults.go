package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectMultiplier  = 1.0
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultSubscribeTimeout     = 10 * time.Second
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultStatusPort           = 8080
	DefaultLogLevel             = "info"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.ReconnectInterval == 0 {
		c.Server.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Server.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		c.Server.MaxReconnectAttempts = &n
	}
	if c.Server.ReconnectMultiplier == 0 {
		c.Server.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Server.HeartbeatTimeout == 0 {
		c.Server.HeartbeatTimeout = 2 * c.Server.HeartbeatInterval
	}
	if c.Server.SubscribeTimeout == 0 {
		c.Server.SubscribeTimeout = DefaultSubscribeTimeout
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
