package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
server:
  url: wss://sync.example.com/ws
  token: abc
  reconnect_interval: 2s
  max_reconnect_attempts: 0
subscriptions:
  - topic: dashboard_updated
    filters:
      dashboardId: d1
  - topic: metric_updated
database:
  host: localhost
  name: devflow
  user: sync
  password: pass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.URL != "wss://sync.example.com/ws" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Server.ReconnectInterval != 2*time.Second {
		t.Errorf("Server.ReconnectInterval = %v, want 2s", cfg.Server.ReconnectInterval)
	}
	if cfg.Server.MaxReconnectAttempts == nil || *cfg.Server.MaxReconnectAttempts != 0 {
		t.Errorf("Server.MaxReconnectAttempts = %v, want explicit 0", cfg.Server.MaxReconnectAttempts)
	}
	if len(cfg.Subscriptions) != 2 {
		t.Fatalf("len(Subscriptions) = %d, want 2", len(cfg.Subscriptions))
	}
	if got := cfg.Subscriptions[0].Filters["dashboardId"]; got != "d1" {
		t.Errorf("Subscriptions[0].Filters[dashboardId] = %v, want d1", got)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SYNC_TOKEN", "secret123")

	yaml := `
server:
  url: ws://localhost:3001
  token: ${TEST_SYNC_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Token != "secret123" {
		t.Errorf("Server.Token = %q, want %q", cfg.Server.Token, "secret123")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("server:\n  urll: ws://x\n")); err == nil {
		t.Error("Parse() expected error for unknown field")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) = %v", err)
	}
	if cfg.Server.URL != "" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
server:
  url: ws://localhost:3001
  heartbeat_interval: 10s
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ReconnectInterval != DefaultReconnectInterval {
		t.Errorf("Server.ReconnectInterval = %v, want default %v", cfg.Server.ReconnectInterval, DefaultReconnectInterval)
	}
	if *cfg.Server.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Server.MaxReconnectAttempts = %d, want default %d", *cfg.Server.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Server.HeartbeatTimeout != 20*time.Second {
		t.Errorf("Server.HeartbeatTimeout = %v, want twice the interval", cfg.Server.HeartbeatTimeout)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want default %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Status.Port != DefaultStatusPort {
		t.Errorf("Status.Port = %d, want default %d", cfg.Status.Port, DefaultStatusPort)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "server:\n  token: x\n")

	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate() expected error for missing url")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{Server: ServerConfig{URL: "wss://sync.example.com"}}
		c.applyDefaults()
		return c
	}
	negative := -1

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Server.URL = "" },
			wantErr: "server.url is required",
		},
		{
			name:    "http url",
			mutate:  func(c *Config) { c.Server.URL = "https://sync.example.com" },
			wantErr: `server.url must use ws or wss, got "https"`,
		},
		{
			name:    "negative attempts",
			mutate:  func(c *Config) { c.Server.MaxReconnectAttempts = &negative },
			wantErr: "server.max_reconnect_attempts must be >= 0",
		},
		{
			name:    "shrinking backoff",
			mutate:  func(c *Config) { c.Server.ReconnectMultiplier = 0.5 },
			wantErr: "server.reconnect_multiplier must be >= 1, got 0.5",
		},
		{
			name: "subscription without topic",
			mutate: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Topic: "a"}, {}}
			},
			wantErr: "subscriptions[1].topic is required",
		},
		{
			name:    "recorder without database",
			mutate:  func(c *Config) { c.Recorder.Enabled = true },
			wantErr: "database.host is required when recorder.enabled is set",
		},
		{
			name: "missing database password",
			mutate: func(c *Config) {
				c.Database.Host = "localhost"
				c.Database.Name = "db"
				c.Database.User = "user"
			},
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: `log.level "loud" is invalid`,
		},
		{
			name: "valid config with recorder",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database = DBConfig{Host: "localhost", Port: 5432, Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestConnection(t *testing.T) {
	zero := 0
	cfg := Config{Server: ServerConfig{
		URL:                  "ws://localhost:3001",
		Token:                "tok",
		ReconnectInterval:    100 * time.Millisecond,
		MaxReconnectAttempts: &zero,
		HeartbeatInterval:    time.Second,
	}}
	cfg.applyDefaults()

	cc := cfg.Connection()
	if cc.URL != "ws://localhost:3001" || cc.Token != "tok" {
		t.Errorf("URL/Token = %q/%q", cc.URL, cc.Token)
	}
	if cc.ReconnectInterval != 100*time.Millisecond {
		t.Errorf("ReconnectInterval = %v", cc.ReconnectInterval)
	}
	if cc.MaxReconnectAttempts != 0 {
		t.Errorf("MaxReconnectAttempts = %d, want 0", cc.MaxReconnectAttempts)
	}
	if cc.HeartbeatTimeout != 2*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 2s", cc.HeartbeatTimeout)
	}
	if cc.WriteTimeout == 0 || cc.BufferSize == 0 {
		t.Error("transport defaults not carried over")
	}
}

func TestTopics(t *testing.T) {
	cfg := Config{Subscriptions: []SubscriptionConfig{
		{Topic: "task_updated", Filters: map[string]any{"teamId": "t1"}},
		{Topic: "metric_updated"},
	}}

	subs := cfg.Topics()
	if len(subs) != 2 {
		t.Fatalf("len(Topics()) = %d, want 2", len(subs))
	}
	if subs[0].Topic != "task_updated" || subs[0].Filters["teamId"] != "t1" {
		t.Errorf("Topics()[0] = %+v", subs[0])
	}
	if subs[1].Topic != "metric_updated" || len(subs[1].Filters) != 0 {
		t.Errorf("Topics()[1] = %+v", subs[1])
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
