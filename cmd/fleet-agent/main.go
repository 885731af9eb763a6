// ABOUTME: Entry point for the fleet-agent that runs on each lab machine
// ABOUTME: Reports status over websocket, executes relayed commands, and streams the screen on demand

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Version is set by goreleaser at build time.
var version = "dev"

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

func main() {
	server := flag.String("server", "localhost:3001", "fleetd server address")
	name := flag.String("name", "", "machine name reported to the server (defaults to hostname)")
	key := flag.String("key", os.Getenv("FLEET_AGENT_KEY"), "shared agent key")
	interval := flag.Duration("interval", 10*time.Second, "heartbeat interval")
	captureCmd := flag.String("capture-cmd", "", "command that writes one JPEG frame to stdout; {quality} is substituted")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot determine hostname: %v\n", err)
			os.Exit(1)
		}
		*name = hostname
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting fleet-agent",
		"version", version,
		"server", *server,
		"name", *name,
		"interval", *interval,
	)

	a := &agent{
		server:     *server,
		name:       *name,
		key:        *key,
		interval:   *interval,
		captureCmd: *captureCmd,
		logger:     logger,
	}

	// Reconnect forever with exponential backoff; a lab machine should
	// never need manual intervention after a network blip.
	backoff := initialBackoff
	for {
		start := time.Now()
		err := a.runSession(ctx)
		if time.Since(start) > time.Minute {
			backoff = initialBackoff
		}
		if ctx.Err() != nil {
			logger.Info("shutting down")
			return
		}
		if err != nil {
			logger.Warn("session ended", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
