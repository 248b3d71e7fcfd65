package services

import (
	"sync"
	"time"
)

// TTLCache is a thread-safe in-memory cache with per-entry expiry. It
// backs the folder ID lookups on hot sync paths and the cache-aside photo
// URL / gallery listing entries; a miss is always safe.
type TTLCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
	ttl   time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

// Cache keys for the cache-aside photo content entries. Invalidated by
// the sync and upload paths, populated on read.
func photoURLKey(fileID string) string {
	return "url:" + fileID
}

func galleryListKey(galleryID string) string {
	return "photos:" + galleryID
}

type cacheItem struct {
	Value     string
	ExpiresAt time.Time
}

// NewTTLCache creates a cache with the specified TTL
func NewTTLCache(ttl time.Duration) *TTLCache {
	cache := &TTLCache{
		items:    make(map[string]*cacheItem),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	// Start background cleanup goroutine
	go cache.cleanupExpired()

	return cache
}

// Get retrieves a cached value if it exists and hasn't expired
func (c *TTLCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists {
		return "", false
	}

	if time.Now().After(item.ExpiresAt) {
		return "", false
	}

	return item.Value, true
}

// Set stores a value in the cache with the configured TTL
func (c *TTLCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		Value:     value,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a cached item
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear removes all cached items
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
}

// Size returns the number of cached items
func (c *TTLCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Stop terminates the cleanup goroutine
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// cleanupExpired runs periodically to remove expired items
func (c *TTLCache) cleanupExpired() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()

			for key, item := range c.items {
				if now.After(item.ExpiresAt) {
					delete(c.items, key)
				}
			}

			c.mu.Unlock()
		}
	}
}
