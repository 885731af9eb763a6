// ABOUTME: Tests for the dedupe cache used to drop repeated activity reports.
// ABOUTME: Validates TTL expiration, size limits, eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_FirstSightingPasses(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("LAB-01|app-open|chrome"))
	assert.True(t, cache.Seen("LAB-01|app-open|chrome"))
}

func TestCache_DistinctKeysIndependent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("LAB-01|app-open|chrome"))
	assert.False(t, cache.Seen("LAB-02|app-open|chrome"))
	assert.False(t, cache.Seen("LAB-01|app-open|firefox"))
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	assert.False(t, cache.Seen("key"))
	assert.True(t, cache.Seen("key"))

	// Advance past the TTL; the key passes again and is re-recorded.
	now = now.Add(2 * time.Minute)
	assert.False(t, cache.Seen("key"))
	assert.True(t, cache.Seen("key"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(time.Hour, 3)
	defer cache.Close()

	for i := 0; i < 3; i++ {
		cache.Seen(fmt.Sprintf("key-%d", i))
	}

	// Fourth key pushes out key-0, the oldest.
	cache.Seen("key-3")
	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.Seen("key-0"))
}

func TestCache_RepeatRefreshesOrder(t *testing.T) {
	cache := New(time.Hour, 2)
	defer cache.Close()

	cache.Seen("a")
	cache.Seen("b")
	cache.Seen("a") // a becomes most recent

	cache.Seen("c") // evicts b, not a
	assert.True(t, cache.Seen("a"))
	assert.False(t, cache.Seen("b"))
}

func TestCache_SteadyRepeatsStaySuppressed(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	// An agent re-reporting every 45s never outlives the 1m window,
	// because each hit refreshes the entry.
	assert.False(t, cache.Seen("key"))
	for i := 0; i < 5; i++ {
		now = now.Add(45 * time.Second)
		assert.True(t, cache.Seen("key"))
	}
}

func TestCache_Expire(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Seen("stale")
	now = now.Add(5 * time.Minute)
	cache.Seen("fresh")

	cache.expire()
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Defaults(t *testing.T) {
	cache := New(0, 0)
	defer cache.Close()

	assert.Equal(t, DefaultTTL, cache.ttl)
	assert.Equal(t, DefaultMaxSize, cache.maxSize)
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 100)
	cache.Close()
	cache.Close()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New(time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Seen(fmt.Sprintf("key-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, cache.Len())
}
