// Package stream manages live screen viewing rooms.
//
// # Overview
//
// Each monitored machine has at most one room. Admin sessions join and
// leave; the Manager signals the agent to start capturing when the first
// viewer arrives and to stop when the last one leaves. Frames from the
// agent are relayed only to that room's viewers.
//
// # Parameters
//
// Stream parameters (fps, quality) are fixed when the room starts. A
// viewer joining a running room with different parameters restarts the
// stream; everyone already watching follows the new settings.
//
// The Manager holds all room membership. It talks to the transport through
// the narrow Sender and AgentLocator interfaces so the hub stays free of
// room state.
package stream
