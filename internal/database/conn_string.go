package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/bacoco/DevFlow-sub010/internal/config"
)

// BuildConnString returns the postgres:// URL for the database holding the
// sync_events table. User and password are escaped as URL userinfo, IPv6
// hosts are bracketed, and unset port and ssl mode fall back to the config
// defaults.
func BuildConnString(cfg config.DBConfig) string {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}
