// ABOUTME: Read-through cached presence service in front of the fleet store
// ABOUTME: Caches hot list/stats queries with short TTLs and synchronous invalidation

package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ProCodeJH/PC-Management/internal/store"
)

// cacheEntry holds one cached query result with its expiry.
type cacheEntry[T any] struct {
	value    T
	expires  time.Time
	occupied bool
}

func (e *cacheEntry[T]) get(now time.Time) (T, bool) {
	if !e.occupied || now.After(e.expires) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (e *cacheEntry[T]) set(v T, ttl time.Duration, now time.Time) {
	e.value = v
	e.expires = now.Add(ttl)
	e.occupied = true
}

func (e *cacheEntry[T]) invalidate() {
	e.occupied = false
}

// Service fronts the fleet store with a short-TTL read-through cache for
// the hot aggregate queries. Reads are many (viewer polls), writes are
// bursty (one per agent per heartbeat interval); the cache bounds read
// amplification, not correctness. Every mutating call invalidates both
// cached entries before it returns, so a broadcast that follows a write
// always reads fresh data. The TTL is a safety net against missed
// invalidations, not the consistency mechanism.
type Service struct {
	store    store.Store
	listTTL  time.Duration
	statsTTL time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	list  cacheEntry[[]*store.AgentRecord]
	stats cacheEntry[*store.FleetStats]
}

// NewService creates a presence service over the given store.
func NewService(s store.Store, listTTL, statsTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		listTTL:  listTTL,
		statsTTL: statsTTL,
		logger:   logger.With("component", "presence"),
	}
}

// Upsert records a registration or heartbeat and invalidates the cache
// before returning.
func (s *Service) Upsert(ctx context.Context, name, address string, m store.Metrics) error {
	err := s.store.UpsertAgent(ctx, name, address, m)
	if err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// MarkOffline demotes one agent and invalidates the cache if anything
// changed.
func (s *Service) MarkOffline(ctx context.Context, name string) (bool, error) {
	changed, err := s.store.MarkOffline(ctx, name)
	if err != nil {
		return false, err
	}
	if changed {
		s.Invalidate()
	}
	return changed, nil
}

// MarkStale batch-demotes agents unseen since the cutoff, invalidating
// the cache when any record changed. Used by the liveness monitor.
func (s *Service) MarkStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	stale, err := s.store.MarkStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		s.Invalidate()
	}
	return stale, nil
}

// Get bypasses the cache; single-record reads are cheap.
func (s *Service) Get(ctx context.Context, name string) (*store.AgentRecord, error) {
	return s.store.GetAgent(ctx, name)
}

// List returns the fleet list, served from cache within the TTL.
func (s *Service) List(ctx context.Context) ([]*store.AgentRecord, error) {
	now := time.Now()

	s.mu.Lock()
	if v, ok := s.list.get(now); ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.list.set(agents, s.listTTL, now)
	s.mu.Unlock()
	return agents, nil
}

// Stats returns aggregate fleet counts, served from cache within the TTL.
func (s *Service) Stats(ctx context.Context) (*store.FleetStats, error) {
	now := time.Now()

	s.mu.Lock()
	if v, ok := s.stats.get(now); ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.set(stats, s.statsTTL, now)
	s.mu.Unlock()
	return stats, nil
}

// SetGroup assigns a policy group and invalidates the list cache.
func (s *Service) SetGroup(ctx context.Context, name string, groupID *int64) error {
	if err := s.store.SetAgentGroup(ctx, name, groupID); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Invalidate drops both cached entries. Safe to call at any time.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.list.invalidate()
	s.stats.invalidate()
	s.mu.Unlock()
}
