// Package cache provides a small expiring key-value cache for remote reads.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is an in-memory cache with per-entry expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Set stores value under key for maxAge. A non-positive maxAge stores
// nothing.
func (c *Cache) Set(key string, value interface{}, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(maxAge),
	}
}

// Get returns the cached value, or nil and false when the key is missing or
// expired. Expired entries are dropped on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// ClearPrefix removes every entry whose key starts with prefix.
func (c *Cache) ClearPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of stored entries, including not-yet-evicted
// expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
