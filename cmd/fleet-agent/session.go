// ABOUTME: One websocket session against fleetd: register, heartbeat, and event dispatch
// ABOUTME: Owns the capture loop lifecycle driven by stream-start/stream-stop signals

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ProCodeJH/PC-Management/internal/capture"
	"github.com/ProCodeJH/PC-Management/internal/relay"
	"github.com/ProCodeJH/PC-Management/internal/stream"
	"github.com/ProCodeJH/PC-Management/internal/transport"
)

type agent struct {
	server     string
	name       string
	key        string
	interval   time.Duration
	captureCmd string
	logger     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	capLoop *capture.Loop
}

// runSession dials the server and services one connection until it drops.
func (a *agent) runSession(ctx context.Context) error {
	url := fmt.Sprintf("ws://%s/ws?key=%s", a.server, a.key)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dialing %s: %w", a.server, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	sessCtx, stopSession := context.WithCancel(ctx)
	defer func() {
		stopSession()
		a.stopCapture() // a lost socket must not leave the screen grabber running
		_ = conn.Close(websocket.StatusNormalClosure, "")
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}()

	if err := a.sendStatus(sessCtx, relay.EventRegister); err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	a.logger.Info("registered", "name", a.name)

	go a.heartbeatLoop(sessCtx)

	for {
		var env transport.Envelope
		if err := wsjson.Read(sessCtx, conn, &env); err != nil {
			if sessCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		a.dispatch(sessCtx, env)
	}
}

// heartbeatLoop reports status every interval until the session ends.
func (a *agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.sendStatus(ctx, relay.EventHeartbeat); err != nil {
				a.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

// sendStatus samples machine metrics and reports them under the given event.
func (a *agent) sendStatus(ctx context.Context, event string) error {
	payload := relay.StatusPayload{Name: a.name}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		payload.CPU = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		payload.Memory = vm.UsedPercent
	}

	return a.send(ctx, event, payload)
}

// send writes one envelope to the server.
func (a *agent) send(ctx context.Context, event string, payload any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, transport.Envelope{Event: event, Payload: raw})
}

// dispatch routes one server event.
func (a *agent) dispatch(ctx context.Context, env transport.Envelope) {
	switch env.Event {
	case relay.CommandTopic(a.name):
		var cmd relay.CommandPayload
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			a.logger.Warn("malformed command payload", "error", err)
			return
		}
		a.runCommand(ctx, cmd)

	case stream.EventStart:
		var params stream.Params
		if err := json.Unmarshal(env.Payload, &params); err != nil {
			a.logger.Warn("malformed stream params", "error", err)
			return
		}
		a.startCapture(ctx, params)

	case stream.EventStop:
		a.stopCapture()

	default:
		// Commands for other machines arrive on the shared channel; ignore.
	}
}

// startCapture launches the adaptive capture loop with the given params,
// replacing any loop already running.
func (a *agent) startCapture(ctx context.Context, params stream.Params) {
	a.stopCapture()

	src, err := a.frameSource()
	if err != nil {
		a.logger.Warn("cannot start stream", "error", err)
		return
	}

	loop := capture.NewLoop(src, &wsSink{agent: a, ctx: ctx}, capture.Limits{}, params.FPS, params.Quality, a.logger)

	a.mu.Lock()
	a.capLoop = loop
	a.mu.Unlock()

	a.logger.Info("stream started", "fps", params.FPS, "quality", params.Quality)
	go loop.Run(ctx)
}

// stopCapture halts the running capture loop, if any.
func (a *agent) stopCapture() {
	a.mu.Lock()
	loop := a.capLoop
	a.capLoop = nil
	a.mu.Unlock()

	if loop != nil {
		loop.Stop()
		a.logger.Info("stream stopped")
	}
}

// wsSink pushes captured frames up the live websocket.
type wsSink struct {
	agent *agent
	ctx   context.Context
}

func (s *wsSink) Push(frame []byte) error {
	return s.agent.send(s.ctx, stream.EventFrame, stream.Frame{
		AgentName: s.agent.name,
		Image:     frame,
	})
}

// reportActivity tells the server about something this machine just did.
func (a *agent) reportActivity(ctx context.Context, kind, details string) {
	err := a.send(ctx, relay.EventActivity, relay.ActivityPayload{
		Name:    a.name,
		Kind:    kind,
		Details: details,
	})
	if err != nil {
		a.logger.Debug("activity report failed", "error", err)
	}
}
