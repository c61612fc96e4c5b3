package signature

import (
	"sync"
	"time"
)

// KeyCacheTTL is the lifetime of a cached public key fetch.
const KeyCacheTTL = time.Hour

type cacheEntry struct {
	pem       string
	fetchedAt time.Time
}

// KeyCache maps keyId -> (public key PEM, fetch time), evicting on
// verification failure to tolerate key rotation. Never caches negative
// results: a failed fetch leaves any prior entry untouched.
type KeyCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewKeyCache constructs an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached PEM for keyID if present and not expired.
func (c *KeyCache) Get(keyID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[keyID]
	if !ok || time.Since(e.fetchedAt) > KeyCacheTTL {
		return "", false
	}
	return e.pem, true
}

// Put inserts or refreshes a cache entry.
func (c *KeyCache) Put(keyID, pem string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyID] = cacheEntry{pem: pem, fetchedAt: time.Now()}
}

// Evict removes a cache entry, forcing the next lookup to re-fetch.
func (c *KeyCache) Evict(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, keyID)
}
