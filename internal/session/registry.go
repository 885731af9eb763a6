// ABOUTME: Tracks live websocket sessions, their source addresses, and agent bindings.
// ABOUTME: Enforces the per-address admission cap and the per-session message rate window.

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults match production deployment limits.
const (
	DefaultMaxPerAddress  = 10
	DefaultMessagesPerSec = 30
)

// entry holds the per-session state tracked by the registry.
type entry struct {
	addr      string
	agentName string

	// fixed-window rate counter
	windowStart time.Time
	windowCount int
}

// Registry coordinates all live sessions. A session is admitted on connect,
// optionally bound to an agent name after it identifies itself, and released
// on disconnect. The registry never touches presence state: a disconnect only
// tells the caller which agent name was bound so higher layers can react.
type Registry struct {
	mu             sync.Mutex
	sessions       map[string]*entry
	byAgent        map[string]string
	perAddr        map[string]int
	maxPerAddress  int
	messagesPerSec int
	logger         *slog.Logger

	now func() time.Time // swapped in tests
}

// NewRegistry creates a Registry with the given limits. Zero or negative
// limits fall back to the defaults.
func NewRegistry(maxPerAddress, messagesPerSec int, logger *slog.Logger) *Registry {
	if maxPerAddress <= 0 {
		maxPerAddress = DefaultMaxPerAddress
	}
	if messagesPerSec <= 0 {
		messagesPerSec = DefaultMessagesPerSec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:       make(map[string]*entry),
		byAgent:        make(map[string]string),
		perAddr:        make(map[string]int),
		maxPerAddress:  maxPerAddress,
		messagesPerSec: messagesPerSec,
		logger:         logger.With("component", "session-registry"),
		now:            time.Now,
	}
}

// OnConnect admits or rejects a new session. It returns false when the
// source address already holds maxPerAddress sessions; a rejected session
// must be closed by the caller without any further bookkeeping.
func (r *Registry) OnConnect(sessionID, sourceAddr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.perAddr[sourceAddr] >= r.maxPerAddress {
		r.logger.Warn("connection rejected, per-address cap reached",
			"addr", sourceAddr,
			"limit", r.maxPerAddress,
		)
		return false
	}

	r.sessions[sessionID] = &entry{addr: sourceAddr, windowStart: r.now()}
	r.perAddr[sourceAddr]++
	r.logger.Debug("session admitted",
		"session_id", sessionID,
		"addr", sourceAddr,
		"addr_sessions", r.perAddr[sourceAddr],
	)
	return true
}

// OnIdentify binds an agent name to an admitted session. Unknown sessions
// are ignored.
func (r *Registry) OnIdentify(sessionID, agentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	e.agentName = agentName
	// Re-registration under the same name rebinds to the newest session.
	r.byAgent[agentName] = sessionID
	r.logger.Info("session identified",
		"session_id", sessionID,
		"agent", agentName,
	)
}

// SessionFor returns the session currently bound to an agent name.
func (r *Registry) SessionFor(agentName string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byAgent[agentName]
	return id, ok
}

// OnDisconnect releases a session and returns the agent name it was bound
// to, if any. The empty string means the session never identified itself.
func (r *Registry) OnDisconnect(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return ""
	}
	delete(r.sessions, sessionID)
	if e.agentName != "" && r.byAgent[e.agentName] == sessionID {
		delete(r.byAgent, e.agentName)
	}
	if r.perAddr[e.addr] <= 1 {
		delete(r.perAddr, e.addr)
	} else {
		r.perAddr[e.addr]--
	}
	r.logger.Debug("session released",
		"session_id", sessionID,
		"agent", e.agentName,
		"total_sessions", len(r.sessions),
	)
	return e.agentName
}

// AgentFor returns the agent name bound to a session, or "" if the session
// is unknown or unidentified.
func (r *Registry) AgentFor(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[sessionID]; ok {
		return e.agentName
	}
	return ""
}

// CountFor reports how many sessions the given source address currently holds.
func (r *Registry) CountFor(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perAddr[addr]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Allow checks the session's fixed-window rate counter and reports whether
// the next inbound message may be processed. Messages beyond messagesPerSec
// inside a one-second window are dropped silently by the caller; the session
// itself stays connected. Unknown sessions are always denied.
func (r *Registry) Allow(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}

	now := r.now()
	if now.Sub(e.windowStart) >= time.Second {
		e.windowStart = now
		e.windowCount = 0
	}
	if e.windowCount >= r.messagesPerSec {
		return false
	}
	e.windowCount++
	return true
}
