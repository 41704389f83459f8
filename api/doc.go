// Package api defines the wire types of the questflow HTTP API.
//
// The API exposes campaign sessions over REST:
//   - session lifecycle (status, stop)
//   - human intervention (submit a controlled character's action)
//   - fork management (create, list, compare, promote)
//   - a websocket event stream at /ws
//
// All error responses share the ErrorResponse envelope; the Code field
// carries the engine's machine-readable error code.
package api
