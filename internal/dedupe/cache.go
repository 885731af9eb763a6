// ABOUTME: Thread-safe TTL cache for suppressing repeated events.
// ABOUTME: Used by the relay to drop duplicate activity reports from chatty agents.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long a seen key suppresses repeats.
const DefaultTTL = 30 * time.Second

// DefaultMaxSize bounds the cache so a hostile agent cannot grow it unboundedly.
const DefaultMaxSize = 4096

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks recently seen keys with a TTL and a size cap. Insertion
// order is kept in a linked list so eviction of the oldest key is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	once    sync.Once

	// now is swapped in tests.
	now func() time.Time
}

// New creates a cache and starts a background sweeper for expired entries.
// Zero or negative arguments fall back to the defaults.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.sweep()
	return c
}

// Seen atomically reports whether key was recorded within the TTL, and
// records it if not. A true return means the caller should drop the event.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && c.now().Sub(e.seenAt) < c.ttl {
		// A live repeat is the hottest key there is; keep it fresh so
		// eviction and expiry prefer colder entries.
		e.seenAt = c.now()
		c.order.MoveToBack(e.element)
		return true
	}
	c.record(key)
	return false
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// record must be called with mu held.
func (c *Cache) record(key string) {
	if e, ok := c.seen[key]; ok {
		e.seenAt = c.now()
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}

	c.seen[key] = &entry{
		seenAt:  c.now(),
		element: c.order.PushBack(key),
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.seen {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}
