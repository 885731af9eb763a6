// ABOUTME: Tests for the cached presence service
// ABOUTME: Covers read-through caching, synchronous invalidation, and TTL expiry

package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProCodeJH/PC-Management/internal/store"
)

// countingStore wraps a MockStore and counts list/stats hits against
// the backend.
type countingStore struct {
	*store.MockStore
	mu         sync.Mutex
	listCalls  int
	statsCalls int
}

func (c *countingStore) ListAgents(ctx context.Context) ([]*store.AgentRecord, error) {
	c.mu.Lock()
	c.listCalls++
	c.mu.Unlock()
	return c.MockStore.ListAgents(ctx)
}

func (c *countingStore) Stats(ctx context.Context) (*store.FleetStats, error) {
	c.mu.Lock()
	c.statsCalls++
	c.mu.Unlock()
	return c.MockStore.Stats(ctx)
}

func newCachedService() (*Service, *countingStore) {
	cs := &countingStore{MockStore: store.NewMockStore()}
	return NewService(cs, 3*time.Second, 5*time.Second, nil), cs
}

func TestList_ServedFromCache(t *testing.T) {
	svc, cs := newCachedService()
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "10.0.0.1", store.Metrics{}))

	_, err := svc.List(ctx)
	require.NoError(t, err)
	_, err = svc.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, cs.listCalls, "second List within TTL must hit the cache")
}

func TestUpsert_InvalidatesSynchronously(t *testing.T) {
	svc, _ := newCachedService()
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{}))

	agents, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	// Mutation within the TTL must be visible immediately
	require.NoError(t, svc.Upsert(ctx, "LAB-02", "", store.Metrics{}))

	agents, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 2, "List after upsert must not serve a stale cache entry")
}

func TestMarkOffline_InvalidatesOnChangeOnly(t *testing.T) {
	svc, cs := newCachedService()
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Online)

	changed, err := svc.MarkOffline(ctx, "LAB-01")
	require.NoError(t, err)
	require.True(t, changed)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Online, "Stats after MarkOffline must reflect the change")

	// No-op demotion keeps the cache warm
	before := cs.statsCalls
	_, err = svc.MarkOffline(ctx, "LAB-01")
	require.NoError(t, err)
	_, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, cs.statsCalls, "unchanged MarkOffline must not invalidate")
}

func TestCache_TTLExpiry(t *testing.T) {
	cs := &countingStore{MockStore: store.NewMockStore()}
	svc := NewService(cs, 10*time.Millisecond, 10*time.Millisecond, nil)
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cs.listCalls, "expired entry must re-read the store")
}

func TestMarkStale_InvalidatesWhenAgentsDemoted(t *testing.T) {
	svc, _ := newCachedService()
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Online)

	// Everything currently online is stale relative to a future cutoff
	stale, err := svc.MarkStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"LAB-01"}, stale)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Online)
}
