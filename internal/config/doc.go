// Package config loads the sync agent's YAML configuration.
//
// Values may reference environment variables with ${VAR}; they are expanded
// before parsing, so secrets such as server.token and database.password can
// stay out of the file.
package config
