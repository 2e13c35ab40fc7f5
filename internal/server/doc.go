// Package server implements the realtime presence and relay core: a hub that
// tracks which user owns which WebSocket connections, routes each inbound
// event (registration, status queries, targeted call signaling, broadcast
// chatter), announces presence transitions with a reconnect grace period, and
// pushes persistence-backed mutations out to every live connection.
//
// The implementation is organized into specialized files for configuration,
// the hub and registry, clients, routing, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
