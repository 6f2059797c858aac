// Package api implements the local HTTP status API and WebSocket feed for a
// Reclaim Energy heat pump controller.
//
// This package provides:
//   - REST endpoints for the merged controller state, the register map,
//     attribute writes and stored state history
//   - WebSocket hub broadcasting every inbound controller state
//   - JWT bearer authentication with viewer and operator roles
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server reads from the coordinator, which owns the controller session.
// Writes go through the coordinator to the session; their acknowledgements
// arrive later as deltas, which the coordinator hands to BroadcastState.
//
// # Security
//
// Tokens are minted offline with `reclaim token`. The server binds to
// loopback by default and is disabled unless api.enabled is set.
package api
