// Package cache provides a small thread-safe TTL cache. The engine uses it to
// keep gathered host facts alive for the duration of a run without re-probing
// hosts on every play.
package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiration
}

func (it item[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Cache is a thread-safe, generic cache with per-item TTL support.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]item[V]
	defaultTTL time.Duration

	janitorStop chan struct{}
	janitorOnce sync.Once
	interval    time.Duration
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithDefaultTTL sets the TTL applied by Set. Zero means items never expire.
func WithDefaultTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.defaultTTL = ttl
	}
}

// WithJanitorInterval sets how often expired items are swept in the background.
func WithJanitorInterval[K comparable, V any](interval time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.interval = interval
	}
}

// New creates a Cache.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items:       make(map[K]item[V]),
		janitorStop: make(chan struct{}),
		interval:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[K, V]) startJanitor() {
	c.janitorOnce.Do(func() {
		if c.interval <= 0 {
			return
		}
		ticker := time.NewTicker(c.interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.DeleteExpired()
				case <-c.janitorStop:
					return
				}
			}
		}()
	})
}

// Set stores a value under the default TTL.
func (c *Cache[K, V]) Set(k K, v V) {
	c.SetWithTTL(k, v, c.defaultTTL)
}

// SetWithTTL stores a value with an explicit TTL. A zero ttl means no expiry;
// a negative ttl deletes the key.
func (c *Cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	if ttl < 0 {
		c.Delete(k)
		return
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
		c.startJanitor()
	}
	c.mu.Lock()
	c.items[k] = item[V]{value: v, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Get returns the value for k if present and not expired.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[k]
	c.mu.RUnlock()
	if !ok || it.expired(time.Now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// GetOrSet returns the existing value for k, or stores and returns v.
// loaded is true when the value was already present.
func (c *Cache[K, V]) GetOrSet(k K, v V) (actual V, loaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[k]; ok && !it.expired(time.Now()) {
		return it.value, true
	}
	var expiresAt time.Time
	if c.defaultTTL > 0 {
		expiresAt = time.Now().Add(c.defaultTTL)
	}
	c.items[k] = item[V]{value: v, expiresAt: expiresAt}
	if c.defaultTTL > 0 {
		go c.startJanitor()
	}
	return v, false
}

// Delete removes k.
func (c *Cache[K, V]) Delete(k K) {
	c.mu.Lock()
	delete(c.items, k)
	c.mu.Unlock()
}

// DeleteExpired removes all expired items.
func (c *Cache[K, V]) DeleteExpired() {
	now := time.Now()
	c.mu.Lock()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of stored items, expired ones included until swept.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background janitor, if one was started.
func (c *Cache[K, V]) Close() {
	select {
	case <-c.janitorStop:
	default:
		close(c.janitorStop)
	}
}
