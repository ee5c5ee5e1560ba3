// Package api implements the HTTP status API and WebSocket feed of the
// Flyport bridge.
//
// This package provides:
//   - board status, suspension and resume endpoints
//   - line and command history queries backed by the history store
//   - command submission over HTTP, sharing the MQTT command path
//   - a WebSocket hub that relays line change events as they are emitted
//   - middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server reads from the bridge and never touches a board directly.
// Commands posted to /api/v1/commands run through the same executor as
// MQTT commands and produce the same acknowledgement. The hub registers
// itself as an event observer on the bridge, so WebSocket clients see
// exactly the events the bus sees.
//
// # Graceful Degradation
//
// The server runs without a history store: history endpoints answer 503
// and everything else keeps working.
package api
