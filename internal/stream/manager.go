// ABOUTME: Fan-out manager for live screen streams, one room per agent.
// ABOUTME: Signals capture start on first viewer, stop on last, and relays frames room-wide.

package stream

import (
	"log/slog"
	"sync"
)

// Wire events exchanged with agents and viewers.
const (
	EventStart = "stream-start"
	EventStop  = "stream-stop"
	EventFrame = "screen-frame"
)

// Params are the capture parameters a stream starts with. The capture loop
// reads them only at start, so changing them means a stop and a fresh start.
type Params struct {
	FPS     int `json:"fps"`
	Quality int `json:"quality"`
}

// Frame is one encoded screen image relayed to viewers.
type Frame struct {
	AgentName string `json:"agentName"`
	Image     []byte `json:"image"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Sender delivers an event to one session. Satisfied by transport.Hub.
type Sender interface {
	Send(sessionID, event string, payload any) error
}

// AgentLocator resolves an agent name to its live session.
// Satisfied by session.Registry.
type AgentLocator interface {
	SessionFor(agentName string) (string, bool)
}

// room tracks the viewers of one agent's stream and the params it runs with.
type room struct {
	viewers map[string]struct{}
	params  Params
}

// Manager owns stream room membership. Start and stop signals go to the
// agent's own session; frames fan out to viewers of that room only.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*room
	sender Sender
	agents AgentLocator
	logger *slog.Logger
}

// NewManager creates a Manager. Pass nil logger for default.
func NewManager(sender Sender, agents AgentLocator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rooms:  make(map[string]*room),
		sender: sender,
		agents: agents,
		logger: logger.With("component", "stream"),
	}
}

// Join adds a viewer session to an agent's room. The first viewer starts the
// agent's capture loop with the given params. A join with different params
// while the stream is running restarts it, since capture params are fixed at
// start.
func (m *Manager) Join(sessionID, agentName string, params Params) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.rooms[agentName]
	if !ok {
		rm = &room{viewers: make(map[string]struct{}), params: params}
		m.rooms[agentName] = rm
		rm.viewers[sessionID] = struct{}{}
		m.signal(agentName, EventStart, params)
		m.logger.Info("stream started",
			"agent", agentName,
			"fps", params.FPS,
			"quality", params.Quality,
		)
		return
	}

	rm.viewers[sessionID] = struct{}{}
	if params != rm.params {
		rm.params = params
		m.signal(agentName, EventStop, nil)
		m.signal(agentName, EventStart, params)
		m.logger.Info("stream restarted with new params",
			"agent", agentName,
			"fps", params.FPS,
			"quality", params.Quality,
		)
	}
}

// Leave removes a viewer from an agent's room. The last viewer leaving stops
// the agent's capture loop.
func (m *Manager) Leave(sessionID, agentName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(sessionID, agentName)
}

// LeaveAll removes a viewer from every room it joined. Called on session
// disconnect.
func (m *Manager) LeaveAll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for agentName, rm := range m.rooms {
		if _, ok := rm.viewers[sessionID]; ok {
			m.leaveLocked(sessionID, agentName)
		}
	}
}

// leaveLocked removes one viewer and stops the stream when the room empties.
// Caller holds m.mu.
func (m *Manager) leaveLocked(sessionID, agentName string) {
	rm, ok := m.rooms[agentName]
	if !ok {
		return
	}
	if _, ok := rm.viewers[sessionID]; !ok {
		return
	}
	delete(rm.viewers, sessionID)
	if len(rm.viewers) == 0 {
		delete(m.rooms, agentName)
		m.signal(agentName, EventStop, nil)
		m.logger.Info("stream stopped", "agent", agentName)
	}
}

// RelayFrame fans one frame out to the agent's room. Frames for agents
// without a room are discarded.
func (m *Manager) RelayFrame(agentName string, frame Frame) {
	m.mu.Lock()
	rm, ok := m.rooms[agentName]
	if !ok {
		m.mu.Unlock()
		return
	}
	viewers := make([]string, 0, len(rm.viewers))
	for id := range rm.viewers {
		viewers = append(viewers, id)
	}
	m.mu.Unlock()

	for _, id := range viewers {
		if err := m.sender.Send(id, EventFrame, frame); err != nil {
			m.logger.Debug("frame delivery failed",
				"agent", agentName,
				"session_id", id,
				"error", err,
			)
		}
	}
}

// Viewers reports the current viewer count for an agent's room.
func (m *Manager) Viewers(agentName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rm, ok := m.rooms[agentName]; ok {
		return len(rm.viewers)
	}
	return 0
}

// signal sends a control event to the agent's own session. An offline agent
// simply misses the signal; its capture loop also stops on disconnect.
// Caller holds m.mu.
func (m *Manager) signal(agentName, event string, payload any) {
	id, ok := m.agents.SessionFor(agentName)
	if !ok {
		m.logger.Warn("stream signal to offline agent", "agent", agentName, "event", event)
		return
	}
	if err := m.sender.Send(id, event, payload); err != nil {
		m.logger.Warn("stream signal failed",
			"agent", agentName,
			"event", event,
			"error", err,
		)
	}
}
