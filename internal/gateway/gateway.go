// ABOUTME: Gateway orchestrator that wires the store, presence, transport, and relay together
// ABOUTME: Manages the HTTP server, websocket endpoint, and component lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ProCodeJH/PC-Management/internal/auth"
	"github.com/ProCodeJH/PC-Management/internal/config"
	"github.com/ProCodeJH/PC-Management/internal/presence"
	"github.com/ProCodeJH/PC-Management/internal/relay"
	"github.com/ProCodeJH/PC-Management/internal/session"
	"github.com/ProCodeJH/PC-Management/internal/store"
	"github.com/ProCodeJH/PC-Management/internal/stream"
	"github.com/ProCodeJH/PC-Management/internal/transport"
)

// Viewer events accepted on admin websocket sessions.
const (
	eventJoinStream  = "join-stream"
	eventLeaveStream = "leave-stream"
)

// Gateway owns every long-lived component of the fleet server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	presence   *presence.Service
	monitor    *presence.Monitor
	registry   *session.Registry
	hub        *transport.Hub
	streams    *stream.Manager
	relay      *relay.Relay
	authority  *auth.JWTAuthority
	auth       *auth.Authenticator
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store from config, honouring the FLEET_DB_PATH override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("FLEET_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway with all components wired but nothing running yet.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	svc := presence.NewService(s, cfg.Cache.ListTTL, cfg.Cache.StatsTTL, logger)
	registry := session.NewRegistry(cfg.Channel.MaxPerAddress, cfg.Channel.MessagesPerSec, logger)
	hub := transport.NewHub(logger)
	streams := stream.NewManager(hub, registry, logger)
	rl := relay.New(svc, s, streams, hub, registry, logger)
	monitor := presence.NewMonitor(svc, cfg.Presence.StalenessThreshold, cfg.Presence.SweepInterval, rl, logger)

	authority := auth.NewJWTAuthority([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	authenticator := auth.NewAuthenticator(s, authority)
	if cfg.Auth.AdminUser != "" && cfg.Auth.AdminPassword != "" {
		if err := authenticator.Bootstrap(context.Background(), cfg.Auth.AdminUser, cfg.Auth.AdminPassword); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("bootstrapping admin user: %w", err)
		}
	}

	g := &Gateway{
		config:    cfg,
		store:     s,
		presence:  svc,
		monitor:   monitor,
		registry:  registry,
		hub:       hub,
		streams:   streams,
		relay:     rl,
		authority: authority,
		auth:      authenticator,
		logger:    logger.With("component", "gateway"),
	}

	g.wireHub()

	mux := http.NewServeMux()
	g.registerRoutes(mux)
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// wireHub binds session lifecycle and event routing onto the transport.
func (g *Gateway) wireHub() {
	g.hub.AdmitFunc = g.registry.OnConnect
	g.hub.AllowFunc = g.registry.Allow
	g.hub.DisconnectFunc = func(sessionID string) {
		// A dropped socket never flips presence; stale heartbeats handle that.
		g.streams.LeaveAll(sessionID)
		agentName := g.registry.OnDisconnect(sessionID)
		if agentName != "" {
			g.logger.Info("agent connection lost", "agent", agentName)
		}
	}

	g.hub.On(relay.EventRegister, g.relay.HandleRegister)
	g.hub.On(relay.EventHeartbeat, g.relay.HandleHeartbeat)
	g.hub.On(relay.EventActivity, g.relay.HandleActivity)
	g.hub.On(relay.EventScreenshot, g.relay.HandleScreenshot)
	g.hub.On(stream.EventFrame, g.relay.HandleFrame)
	g.hub.On(eventJoinStream, g.handleJoinStream)
	g.hub.On(eventLeaveStream, g.handleLeaveStream)
}

// registerRoutes attaches the websocket endpoint and the HTTP API.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	authMiddleware := auth.Middleware(g.authority)

	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/api/login", g.handleLogin)
	mux.Handle("/ws", http.HandlerFunc(g.handleWebsocket))

	mux.Handle("/api/agents", authMiddleware(http.HandlerFunc(g.handleListAgents)))
	mux.Handle("/api/agents/", authMiddleware(http.HandlerFunc(g.handleAgentRoutes)))
	mux.Handle("/api/stats", authMiddleware(http.HandlerFunc(g.handleStats)))
}

// handleWebsocket authenticates the connecting peer before handing the
// request to the hub. Agents present the shared key; admins present a JWT.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !g.authorizeSocket(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	g.hub.ServeHTTP(w, r)
}

// authorizeSocket accepts either the agent shared key or a valid admin token.
func (g *Gateway) authorizeSocket(r *http.Request) bool {
	if key := r.URL.Query().Get("key"); key != "" {
		return g.config.Auth.AgentKey != "" && key == g.config.Auth.AgentKey
	}
	if token := r.URL.Query().Get("token"); token != "" {
		_, err := g.authority.Verify(token)
		return err == nil
	}
	// Both credential schemes disabled: open deployment on a trusted LAN.
	return g.config.Auth.AgentKey == "" && g.config.Auth.JWTSecret == ""
}

type streamRequest struct {
	Name    string `json:"name"`
	FPS     int    `json:"fps,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

// handleJoinStream subscribes an admin session to an agent's live stream.
func (g *Gateway) handleJoinStream(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var req streamRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Name == "" {
		g.logger.Warn("malformed join-stream payload", "session_id", s.ID)
		return
	}
	if req.FPS == 0 {
		req.FPS = g.config.Stream.DefaultFPS
	}
	if req.Quality == 0 {
		req.Quality = g.config.Stream.DefaultQuality
	}
	g.streams.Join(s.ID, req.Name, stream.Params{FPS: req.FPS, Quality: req.Quality})
}

// handleLeaveStream unsubscribes an admin session from an agent's stream.
func (g *Gateway) handleLeaveStream(ctx context.Context, s *transport.Session, payload json.RawMessage) {
	var req streamRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Name == "" {
		return
	}
	g.streams.Leave(s.ID, req.Name)
}

// Run starts the monitor and the HTTP server, blocking until ctx is
// cancelled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go g.monitor.Run(monCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server, drains the hub, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.hub.Close()
	g.relay.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
