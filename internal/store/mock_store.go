// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Mirrors SQLite semantics including last-writer-wins upsert and stale sweeps

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store for tests. It is safe for concurrent
// use and mirrors the SQLite store's observable behavior.
type MockStore struct {
	mu          sync.RWMutex
	agents      map[string]*AgentRecord
	activity    []*ActivityEntry
	screenshots []*Screenshot
	admins      map[string]*AdminUser
	nextID      int64

	// FailWrites makes every mutating call return this error, for
	// exercising the log-and-continue persistence failure path.
	FailWrites error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		agents: make(map[string]*AgentRecord),
		admins: make(map[string]*AdminUser),
	}
}

func (s *MockStore) UpsertAgent(ctx context.Context, name, address string, m Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	rec, ok := s.agents[name]
	if !ok {
		rec = &AgentRecord{Name: name}
		s.agents[name] = rec
	}
	rec.Address = address
	rec.Metrics = m
	rec.State = StateOnline
	rec.LastSeen = time.Now().UTC()
	return nil
}

func (s *MockStore) MarkOffline(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return false, s.FailWrites
	}

	rec, ok := s.agents[name]
	if !ok || rec.State != StateOnline {
		return false, nil
	}
	rec.State = StateOffline
	return true, nil
}

func (s *MockStore) MarkStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return nil, s.FailWrites
	}

	var stale []string
	for name, rec := range s.agents {
		if rec.State == StateOnline && rec.LastSeen.Before(cutoff) {
			rec.State = StateOffline
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func (s *MockStore) GetAgent(ctx context.Context, name string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.agents[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MockStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		cp := *rec
		agents = append(agents, &cp)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *MockStore) Stats(ctx context.Context) (*FleetStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &FleetStats{Total: len(s.agents)}
	for _, rec := range s.agents {
		if rec.State == StateOnline {
			stats.Online++
		}
	}
	stats.Offline = stats.Total - stats.Online
	return stats, nil
}

func (s *MockStore) SetAgentGroup(ctx context.Context, name string, groupID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	rec, ok := s.agents[name]
	if !ok {
		return ErrNotFound
	}
	rec.GroupID = groupID
	return nil
}

func (s *MockStore) AppendActivity(ctx context.Context, entry *ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	s.nextID++
	cp := *entry
	cp.ID = s.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.activity = append(s.activity, &cp)
	return nil
}

func (s *MockStore) ListActivity(ctx context.Context, agentName string, limit int) ([]*ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}

	var entries []*ActivityEntry
	for i := len(s.activity) - 1; i >= 0 && len(entries) < limit; i-- {
		e := s.activity[i]
		if agentName != "" && e.AgentName != agentName {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

func (s *MockStore) SaveScreenshot(ctx context.Context, shot *Screenshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	s.nextID++
	shot.ID = s.nextID
	if shot.CapturedAt.IsZero() {
		shot.CapturedAt = time.Now().UTC()
	}
	cp := *shot
	s.screenshots = append(s.screenshots, &cp)
	return nil
}

func (s *MockStore) ListScreenshots(ctx context.Context, agentName string, limit int) ([]*Screenshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	var shots []*Screenshot
	for i := len(s.screenshots) - 1; i >= 0 && len(shots) < limit; i-- {
		sc := s.screenshots[i]
		if sc.AgentName != agentName {
			continue
		}
		cp := *sc
		shots = append(shots, &cp)
	}
	return shots, nil
}

func (s *MockStore) CreateAdminUser(ctx context.Context, username, passwordHash, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	s.admins[username] = &AdminUser{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *MockStore) GetAdminUser(ctx context.Context, username string) (*AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.admins[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MockStore) Close() error { return nil }

// SetLastSeen rewinds an agent's last_seen for staleness tests.
func (s *MockStore) SetLastSeen(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.agents[name]; ok {
		rec.LastSeen = t
	}
}
