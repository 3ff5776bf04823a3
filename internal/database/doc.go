// Package database opens the PostgreSQL pool used to record sync events.
//
// The agent works without a database; a pool is only created when the
// database section is configured.
package database
