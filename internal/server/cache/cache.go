// Package cache is the server's read-through cache for admin queries.
// It wraps patrickmn/go-cache; entries expire after a TTL and writes
// invalidate by key prefix.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cache wraps go-cache with read-through loading.
type Cache struct {
	store *gocache.Cache
	group singleflight.Group
}

// New creates a cache. cleanupInterval of zero disables the background
// purge; expired entries are still never returned.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache.
func (c *Cache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

// Remember returns the cached value for key, loading and storing it on a
// miss. Concurrent misses for one key share a single load. Load errors are
// not cached.
func (c *Cache) Remember(key string, load func() (any, error)) (any, error) {
	if v, ok := c.store.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.store.Set(key, v, gocache.DefaultExpiration)
		return v, nil
	})
	return v, err
}

// Delete removes a value from the cache.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(prefix string) int {
	n := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			n++
		}
	}
	return n
}

// Clear removes all items from the cache.
func (c *Cache) Clear() {
	c.store.Flush()
}

// ItemCount returns the number of items in the cache.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}
