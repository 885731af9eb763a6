// Package relay connects the websocket transport to presence, storage, and
// the stream fan-out.
//
// # Overview
//
// The relay owns the event vocabulary of the wire protocol. Inbound agent
// events (register, heartbeat, activity, screenshot, screen-frame) update
// presence state and the audit store, then fan back out to dashboard
// sessions as broadcast events (agent-updated, new-activity,
// new-screenshot, fleet-changed).
//
// # Commands
//
// Dashboard-initiated commands are broadcast on a per-agent topic:
//
//	command:<agent-name>
//
// Every connected session receives the envelope; agents act only on their
// own topic. Delivery is fire-and-forget with no acknowledgement.
//
// # Failure Policy
//
// Persistence failures on the event path are logged and swallowed. The
// live dashboard keeps working when the disk does not.
package relay
