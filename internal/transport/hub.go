// ABOUTME: Websocket hub that owns all live sessions and dispatches inbound events.
// ABOUTME: Wraps coder/websocket with JSON envelopes, buffered per-session writers, and drop-on-full sends.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	// outboundBufferSize is the channel buffer for each session's writer.
	outboundBufferSize = 64

	// writeTimeout bounds a single frame write to a slow client.
	writeTimeout = 10 * time.Second
)

// ErrSessionNotFound indicates a send targeted a session that is not connected.
var ErrSessionNotFound = errors.New("session not found")

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandlerFunc processes one inbound event from a session.
type HandlerFunc func(ctx context.Context, s *Session, payload json.RawMessage)

// Session is one live websocket connection. Outbound messages go through a
// buffered channel drained by a single writer goroutine; sends never block
// and are dropped when the buffer is full.
type Session struct {
	ID         string
	RemoteAddr string

	conn     *websocket.Conn
	outbound chan Envelope
	done     chan struct{}
	once     sync.Once
}

// enqueue hands an envelope to the writer goroutine without blocking.
// Returns false when the session's buffer is full.
func (s *Session) enqueue(env Envelope) bool {
	select {
	case s.outbound <- env:
		return true
	default:
		return false
	}
}

// close shuts the session down exactly once.
func (s *Session) close(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close(code, reason)
	})
}

// Hub accepts websocket connections, tracks sessions, and routes inbound
// envelopes to registered handlers. Admission and throttling decisions are
// delegated to the callbacks so the hub stays transport-only.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	handlers map[string]HandlerFunc
	logger   *slog.Logger

	// AdmitFunc decides whether a new connection may join. A nil func admits
	// everything. Rejected connections are closed with a policy-violation
	// status before any event flows.
	AdmitFunc func(sessionID, sourceAddr string) bool

	// AllowFunc gates each inbound message. A nil func allows everything.
	// Denied messages are dropped silently and the connection stays up.
	AllowFunc func(sessionID string) bool

	// DisconnectFunc runs after a session is removed from the hub.
	DisconnectFunc func(sessionID string)
}

// NewHub creates a Hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With("component", "hub"),
	}
}

// On registers the handler for an event name. Later registrations replace
// earlier ones. Must be called before ServeHTTP starts accepting traffic.
func (h *Hub) On(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
}

// ServeHTTP upgrades the request to a websocket and runs the session until
// the peer disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Dashboard and agents connect from arbitrary lab origins.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sess := &Session{
		ID:         uuid.New().String(),
		RemoteAddr: sourceAddr(r),
		conn:       conn,
		outbound:   make(chan Envelope, outboundBufferSize),
		done:       make(chan struct{}),
	}

	if h.AdmitFunc != nil && !h.AdmitFunc(sess.ID, sess.RemoteAddr) {
		_ = conn.Close(websocket.StatusPolicyViolation, "connection limit reached")
		return
	}

	h.mu.Lock()
	h.sessions[sess.ID] = sess
	total := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("session connected",
		"session_id", sess.ID,
		"addr", sess.RemoteAddr,
		"total_sessions", total,
	)

	go h.writeLoop(sess)
	h.readLoop(r.Context(), sess)
	h.drop(sess)
}

// writeLoop drains the session's outbound buffer into the socket.
func (h *Hub) writeLoop(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, s.conn, env)
			cancel()
			if err != nil {
				s.close(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}
}

// readLoop dispatches inbound envelopes until the connection dies.
func (h *Hub) readLoop(ctx context.Context, s *Session) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, s.conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("read failed", "session_id", s.ID, "error", err)
			}
			return
		}
		if env.Event == "" {
			continue
		}
		if h.AllowFunc != nil && !h.AllowFunc(s.ID) {
			// Over the rate window: drop and keep reading.
			continue
		}

		h.mu.RLock()
		fn, ok := h.handlers[env.Event]
		h.mu.RUnlock()
		if !ok {
			h.logger.Debug("unhandled event", "event", env.Event, "session_id", s.ID)
			continue
		}
		fn(ctx, s, env.Payload)
	}
}

// drop removes a session from the hub and fires the disconnect callback.
func (h *Hub) drop(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	total := len(h.sessions)
	h.mu.Unlock()

	s.close(websocket.StatusNormalClosure, "")
	h.logger.Debug("session disconnected",
		"session_id", s.ID,
		"total_sessions", total,
	)
	if h.DisconnectFunc != nil {
		h.DisconnectFunc(s.ID)
	}
}

// Send delivers one event to a specific session. The payload is marshalled
// to JSON; a full outbound buffer drops the message rather than blocking.
func (h *Hub) Send(sessionID, event string, payload any) error {
	env, err := seal(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	if !s.enqueue(env) {
		h.logger.Debug("dropped event for slow session",
			"session_id", sessionID,
			"event", event,
		)
	}
	return nil
}

// Broadcast delivers one event to every connected session.
func (h *Hub) Broadcast(event string, payload any) {
	env, err := seal(event, payload)
	if err != nil {
		h.logger.Error("broadcast marshal failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(env) {
			h.logger.Debug("dropped broadcast for slow session",
				"session_id", s.ID,
				"event", event,
			)
		}
	}
}

// Kick closes a session from the server side.
func (h *Hub) Kick(sessionID, reason string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if ok {
		s.close(websocket.StatusNormalClosure, reason)
	}
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close tears down every session. Used during graceful shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(websocket.StatusGoingAway, "server shutting down")
	}
}

// seal builds an Envelope from an event name and payload value.
func seal(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// sourceAddr extracts the client address, honouring a reverse proxy header.
func sourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
