package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ttlEntry is one cached value with its absolute expiry.
type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe time-to-live cache. Expired entries are dropped
// lazily on read and swept by a background goroutine.
type TTL[V any] struct {
	mu              sync.RWMutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]ttlEntry[V]
	stats           *Statistics

	shutdown chan struct{}
	done     chan struct{}
}

// NewTTL creates a TTL cache. The cleanup goroutine stops when ctx is
// cancelled or Close is called.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}

	c := &TTL[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]ttlEntry[V]),
		stats:           NewStatistics(),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	go c.cleanup(ctx)

	return c
}

// Get retrieves a value by key, dropping it when expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		var zero V
		c.stats.Miss()
		return zero, false
	}

	if entryExpired(entry.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock
		if current, still := c.items[key]; still && entryExpired(current.expiresAt) {
			delete(c.items, key)
			c.stats.Eviction()
			c.stats.UpdateSize(int64(len(c.items)))
		}
		c.mu.Unlock()

		var zero V
		c.stats.Miss()
		return zero, false
	}

	c.stats.Hit()
	return entry.value, true
}

// Set stores a value with the configured TTL.
func (c *TTL[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	return !exists, nil
}

// Delete removes an entry by key.
func (c *TTL[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if exists {
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
	}
	return exists, nil
}

// Size returns the current number of entries.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns cache statistics.
func (c *TTL[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweeper.
func (c *TTL[V]) Close() error {
	select {
	case <-c.shutdown:
		// Already closing
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache sweeper to finish")
	}
}

// cleanup sweeps expired entries periodically.
func (c *TTL[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTL[V]) removeExpired() {
	now := time.Now()
	evicted := 0

	c.mu.Lock()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, key)
			evicted++
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	for i := 0; i < evicted; i++ {
		c.stats.Eviction()
	}
	if evicted > 0 {
		c.stats.UpdateSize(int64(size))
	}
}
