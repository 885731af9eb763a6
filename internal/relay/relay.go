// ABOUTME: Routes inbound agent events to presence, audit, and stream fan-out.
// ABOUTME: Publishes admin commands on per-agent topics, fire-and-forget with no acks.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ProCodeJH/PC-Management/internal/dedupe"
	"github.com/ProCodeJH/PC-Management/internal/presence"
	"github.com/ProCodeJH/PC-Management/internal/store"
	"github.com/ProCodeJH/PC-Management/internal/stream"
	"github.com/ProCodeJH/PC-Management/internal/transport"
)

// Inbound agent events.
const (
	EventRegister   = "register"
	EventHeartbeat  = "heartbeat"
	EventActivity   = "activity"
	EventScreenshot = "screenshot"
)

// Outbound broadcasts to admin sessions.
const (
	EventAgentUpdated  = "agent-updated"
	EventNewActivity   = "new-activity"
	EventNewScreenshot = "new-screenshot"
	EventFleetChanged  = "fleet-changed"
)

// Command vocabulary relayed to agents. The relay treats these opaquely;
// the list exists for the HTTP surface to validate requests against.
const (
	CmdShutdown       = "shutdown"
	CmdRestart        = "restart"
	CmdLock           = "lock"
	CmdLogoff         = "logoff"
	CmdMessage        = "message"
	CmdKillProcess    = "kill-process"
	CmdOpenURL        = "open-url"
	CmdRun            = "run"
	CmdScreenshot     = "screenshot"
	CmdCancelShutdown = "cancel-shutdown"
	CmdBlockSite      = "block-site"
)

// KnownCommand reports whether name is part of the relay vocabulary.
func KnownCommand(name string) bool {
	switch name {
	case CmdShutdown, CmdRestart, CmdLock, CmdLogoff, CmdMessage,
		CmdKillProcess, CmdOpenURL, CmdRun, CmdScreenshot,
		CmdCancelShutdown, CmdBlockSite:
		return true
	}
	return false
}

// CommandTopic returns the per-agent event name commands travel on. Every
// session receives the broadcast; only the named agent acts on it.
func CommandTopic(agentName string) string {
	return "command:" + agentName
}

// Broadcaster is the transport surface the relay publishes through.
// Satisfied by transport.Hub.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Identifier records which agent a session speaks for.
// Satisfied by session.Registry.
type Identifier interface {
	OnIdentify(sessionID, agentName string)
	AgentFor(sessionID string) string
}

// StatusPayload is sent by agents on register and on every heartbeat.
type StatusPayload struct {
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
}

// ActivityPayload describes something a machine did or had done to it.
type ActivityPayload struct {
	Name    string `json:"name"`
	User    string `json:"user,omitempty"`
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

// ScreenshotPayload carries one captured still image.
type ScreenshotPayload struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Image    []byte `json:"image"`
}

// CommandPayload is what an agent receives on its command topic.
type CommandPayload struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Relay connects the transport to presence, the audit store, and the stream
// fan-out. Persistence failures on the event path are logged and swallowed;
// a dead disk must not take down live monitoring.
type Relay struct {
	presence *presence.Service
	store    store.Store
	streams  *stream.Manager
	hub      Broadcaster
	sessions Identifier
	recent   *dedupe.Cache
	logger   *slog.Logger
}

// New creates a Relay. Pass nil logger for default.
func New(svc *presence.Service, st store.Store, streams *stream.Manager, hub Broadcaster, sessions Identifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		presence: svc,
		store:    st,
		streams:  streams,
		hub:      hub,
		sessions: sessions,
		recent:   dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		logger:   logger.With("component", "relay"),
	}
}

// Close releases background resources.
func (r *Relay) Close() {
	r.recent.Close()
}

// SendCommand publishes a command on the agent's topic. Fire-and-forget:
// true means the broadcast was attempted, not that any agent executed it.
func (r *Relay) SendCommand(agentName, command string, params map[string]any) bool {
	r.hub.Broadcast(CommandTopic(agentName), CommandPayload{
		Command: command,
		Params:  params,
	})
	r.logger.Info("command relayed",
		"agent", agentName,
		"command", command,
	)
	return true
}

// HandleRegister processes a new agent announcing itself. The session is
// bound to the agent name so disconnects and stream signals can find it.
func (r *Relay) HandleRegister(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var p StatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("malformed register payload", "session_id", s.ID, "error", err)
		return
	}
	if p.Name == "" {
		r.logger.Warn("register without a name", "session_id", s.ID)
		return
	}
	if p.Address == "" {
		p.Address = s.RemoteAddr
	}

	r.sessions.OnIdentify(s.ID, p.Name)
	r.upsert(ctx, p)
}

// HandleHeartbeat processes a periodic status report. Heartbeats from a
// session that never registered still identify it, covering gateway restarts
// mid-connection.
func (r *Relay) HandleHeartbeat(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var p StatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("malformed heartbeat payload", "session_id", s.ID, "error", err)
		return
	}
	if p.Name == "" {
		return
	}
	if p.Address == "" {
		p.Address = s.RemoteAddr
	}
	if r.sessions.AgentFor(s.ID) == "" {
		r.sessions.OnIdentify(s.ID, p.Name)
	}
	r.upsert(ctx, p)
}

// upsert records the status and tells admin sessions about it.
func (r *Relay) upsert(ctx context.Context, p StatusPayload) {
	err := r.presence.Upsert(ctx, p.Name, p.Address, store.Metrics{CPU: p.CPU, Memory: p.Memory})
	if err != nil {
		r.logger.Error("status persist failed", "agent", p.Name, "error", err)
		return
	}

	rec, err := r.presence.Get(ctx, p.Name)
	if err != nil {
		r.logger.Error("status readback failed", "agent", p.Name, "error", err)
		return
	}
	r.hub.Broadcast(EventAgentUpdated, rec)
}

// HandleActivity appends an audit entry and notifies admin sessions.
func (r *Relay) HandleActivity(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var p ActivityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("malformed activity payload", "session_id", s.ID, "error", err)
		return
	}
	if p.Name == "" || p.Kind == "" {
		return
	}

	// Agents re-send the current foreground app on every poll; only the
	// first sighting in the window reaches the feed.
	if r.recent.Seen(p.Name + "|" + p.Kind + "|" + p.Details) {
		return
	}

	entry := store.ActivityEntry{
		AgentName: p.Name,
		User:      p.User,
		Kind:      p.Kind,
		Details:   p.Details,
	}
	if err := r.store.AppendActivity(ctx, &entry); err != nil {
		r.logger.Error("activity persist failed", "agent", p.Name, "error", err)
	}
	r.hub.Broadcast(EventNewActivity, p)
}

// HandleScreenshot stores a captured still and notifies admin sessions.
// The image bytes are not rebroadcast; admins fetch them over HTTP.
func (r *Relay) HandleScreenshot(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var p ScreenshotPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("malformed screenshot payload", "session_id", s.ID, "error", err)
		return
	}
	if p.Name == "" || len(p.Image) == 0 {
		return
	}
	if p.Filename == "" {
		p.Filename = fmt.Sprintf("%s.jpg", p.Name)
	}

	shot := store.Screenshot{
		AgentName: p.Name,
		Filename:  p.Filename,
		Data:      p.Image,
	}
	if err := r.store.SaveScreenshot(ctx, &shot); err != nil {
		r.logger.Error("screenshot persist failed", "agent", p.Name, "error", err)
	}
	r.hub.Broadcast(EventNewScreenshot, map[string]string{
		"name":     p.Name,
		"filename": p.Filename,
	})
}

// HandleFrame pushes a live frame into the agent's stream room.
func (r *Relay) HandleFrame(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var f stream.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		r.logger.Warn("malformed frame payload", "session_id", s.ID, "error", err)
		return
	}
	if f.AgentName == "" {
		// Fall back to the session binding for older agents.
		f.AgentName = r.sessions.AgentFor(s.ID)
	}
	if f.AgentName == "" {
		return
	}
	r.streams.RelayFrame(f.AgentName, f)
}

// FleetChanged implements presence.Notifier: admins get a cheap signal and
// refetch the list through the cache.
func (r *Relay) FleetChanged(names []string) {
	r.hub.Broadcast(EventFleetChanged, map[string][]string{"names": names})
}
