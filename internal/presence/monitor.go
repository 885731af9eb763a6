// ABOUTME: Periodic liveness sweep that demotes silent agents to offline
// ABOUTME: Pull-based convergence; transport disconnects never write presence state

package presence

import (
	"context"
	"log/slog"
	"time"
)

// Notifier receives the cheap fleet-changed signal after a sweep flips
// any agent offline. Viewers re-fetch on this signal; the full fleet
// payload is never pushed on a tick.
type Notifier interface {
	FleetChanged(names []string)
}

// Monitor owns the only write path that may demote an agent for
// silence. A transport disconnect is an unreliable liveness signal (a
// network blip is indistinguishable from agent death), so state changes
// definitively only here, or optimistically on the next heartbeat.
type Monitor struct {
	svc       *Service
	threshold time.Duration
	interval  time.Duration
	notifier  Notifier
	logger    *slog.Logger
}

// NewMonitor creates a liveness monitor. The threshold should be a
// generous multiple of the agent report interval to tolerate jitter.
func NewMonitor(svc *Service, threshold, interval time.Duration, notifier Notifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		svc:       svc,
		threshold: threshold,
		interval:  interval,
		notifier:  notifier,
		logger:    logger.With("component", "liveness"),
	}
}

// Run sweeps on every tick until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started",
		"threshold", m.threshold,
		"interval", m.interval,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one staleness pass. A store failure is logged and
// skipped; the next tick retries naturally.
func (m *Monitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.threshold)

	stale, err := m.svc.MarkStale(ctx, cutoff)
	if err != nil {
		m.logger.Error("staleness sweep failed", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	m.logger.Info("agents went offline", "count", len(stale), "names", stale)
	if m.notifier != nil {
		m.notifier.FleetChanged(stale)
	}
}
