// Package session tracks connection-scoped state: which agent a socket
// belongs to, per-address connection caps, and per-session message rate
// budgets. Session state is independent of presence; a session ending says
// nothing about whether its machine is still up.
package session
