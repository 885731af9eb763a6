// Package transport provides the websocket hub shared by agents and admins.
//
// # Overview
//
// Every connection, whether a monitored machine or a dashboard browser,
// speaks the same JSON envelope protocol over a single /ws endpoint:
//
//	{"event": "heartbeat", "payload": {...}}
//
// The hub accepts connections, assigns session IDs, and dispatches
// envelopes to registered handlers by event name.
//
// # Hub
//
// The Hub owns all live sessions:
//
//	hub := transport.NewHub(logger)
//	hub.On("heartbeat", handleHeartbeat)
//
// Key operations:
//
//   - On(event, handler): Register a handler for an event name
//   - Send(sessionID, event, payload): Write to one session
//   - Broadcast(event, payload): Write to every session
//   - Kick(sessionID): Force-close a session
//
// # Delivery Semantics
//
// Each session has a single writer goroutine fed by a buffered channel.
// When a slow consumer fills its buffer, new messages for that session are
// dropped rather than blocking senders. Live telemetry tolerates gaps;
// a stalled hub does not.
//
// # Policy Hooks
//
// The hub carries no admission or rate policy of its own. Callers install
// hooks:
//
//   - AdmitFunc: Accept or reject a new connection by source address
//   - AllowFunc: Drop inbound messages from sessions over their rate budget
//   - DisconnectFunc: Observe session teardown
package transport
