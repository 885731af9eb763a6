// ABOUTME: HTTP API handlers for the admin dashboard backend.
// ABOUTME: Covers login, fleet listing, stats, command dispatch, activity, screenshots, and grouping.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ProCodeJH/PC-Management/internal/auth"
	"github.com/ProCodeJH/PC-Management/internal/relay"
	"github.com/ProCodeJH/PC-Management/internal/store"
)

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// CommandRequest is the JSON request body for POST /api/agents/{name}/command.
type CommandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// CommandResponse acknowledges that a command was relayed. Relayed is not
// delivery confirmation; commands are fire-and-forget.
type CommandResponse struct {
	Relayed bool   `json:"relayed"`
	Agent   string `json:"agent"`
	Command string `json:"command"`
}

// GroupRequest is the JSON request body for PUT /api/agents/{name}/group.
// A null group_id clears the assignment.
type GroupRequest struct {
	GroupID *int64 `json:"group_id"`
}

// sendJSON writes v as the response body.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, msg string) {
	g.sendJSON(w, status, map[string]string{"error": msg})
}

// handleLogin handles POST /api/login requests. No auth required.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "username and password required")
		return
	}

	token, err := g.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		g.logger.Error("login failed", "username", req.Username, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// handleListAgents handles GET /api/agents requests. Served from the
// presence cache.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agents, err := g.presence.List(r.Context())
	if err != nil {
		g.logger.Error("listing agents", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, agents)
}

// handleStats handles GET /api/stats requests. Served from the presence cache.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := g.presence.Stats(r.Context())
	if err != nil {
		g.logger.Error("fetching stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, stats)
}

// handleAgentRoutes dispatches /api/agents/{name}/... subresources.
func (g *Gateway) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" {
		g.sendJSONError(w, http.StatusNotFound, "agent name required")
		return
	}

	switch sub {
	case "command":
		g.handleCommand(w, r, name)
	case "activity":
		g.handleActivity(w, r, name)
	case "screenshots":
		g.handleScreenshots(w, r, name)
	case "group":
		g.handleSetGroup(w, r, name)
	case "":
		g.handleGetAgent(w, r, name)
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown resource")
	}
}

// handleGetAgent handles GET /api/agents/{name}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rec, err := g.presence.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "agent not found")
			return
		}
		g.logger.Error("fetching agent", "agent", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, rec)
}

// handleCommand handles POST /api/agents/{name}/command. Only admins may
// issue commands; the vocabulary is validated here, then relayed opaquely.
func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil || !id.IsAdmin() {
		g.sendJSONError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !relay.KnownCommand(req.Command) {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown command %q", req.Command))
		return
	}

	relayed := g.relay.SendCommand(name, req.Command, req.Params)

	entry := store.ActivityEntry{
		AgentName: name,
		User:      id.Username,
		Kind:      "command",
		Details:   req.Command,
	}
	if err := g.store.AppendActivity(r.Context(), &entry); err != nil {
		g.logger.Error("recording command", "agent", name, "error", err)
	}

	g.sendJSON(w, http.StatusAccepted, CommandResponse{
		Relayed: relayed,
		Agent:   name,
		Command: req.Command,
	})
}

// handleActivity handles GET /api/agents/{name}/activity.
func (g *Gateway) handleActivity(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := parseLimit(r, 50)
	entries, err := g.store.ListActivity(r.Context(), name, limit)
	if err != nil {
		g.logger.Error("listing activity", "agent", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, entries)
}

// handleScreenshots handles GET /api/agents/{name}/screenshots.
func (g *Gateway) handleScreenshots(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := parseLimit(r, 10)
	shots, err := g.store.ListScreenshots(r.Context(), name, limit)
	if err != nil {
		g.logger.Error("listing screenshots", "agent", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, shots)
}

// handleSetGroup handles PUT /api/agents/{name}/group.
func (g *Gateway) handleSetGroup(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := g.presence.SetGroup(r.Context(), name, req.GroupID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "agent not found")
			return
		}
		g.logger.Error("setting group", "agent", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseLimit reads the ?limit query parameter with a fallback.
func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
