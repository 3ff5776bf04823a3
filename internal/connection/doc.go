// Package connection implements the client side of the sync server
// connection.
//
// The Manager:
//   - Owns at most one websocket at a time, dialed with ?token=<token>
//   - Moves through DISCONNECTED, CONNECTING, CONNECTED, RECONNECTING, ERROR
//   - Pings every heartbeat interval and force-closes a silent socket
//   - Reconnects after abnormal closures, up to a bounded number of attempts
//   - Tracks confirmed subscriptions and replays them after reconnecting
//   - Publishes state changes and inbound data on the event bus
package connection
