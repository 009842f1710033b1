package license

import (
	"sync"
	"time"
)

// cacheEntry is a cached entitlement resolution.
type cacheEntry struct {
	Info      LicenseInfo
	CachedAt  time.Time
	ExpiresAt time.Time
}

// ResolutionCache caches entitlement resolutions in-process so repeated
// feature gates within one invocation do not re-read and re-verify the
// license file each time.
type ResolutionCache struct {
	entries   map[string]cacheEntry
	mutex     sync.RWMutex
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
}

// NewResolutionCache creates a cache with the given TTL and size bound.
func NewResolutionCache(ttl time.Duration, maxSize int) *ResolutionCache {
	return &ResolutionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get retrieves a cached resolution.
func (c *ResolutionCache) Get(key string) (LicenseInfo, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		c.missCount++
		return LicenseInfo{}, false
	}

	c.hitCount++
	return entry.Info, true
}

// Set stores a resolution.
func (c *ResolutionCache) Set(key string, info LicenseInfo) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxSize <= 0 {
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.entries[key] = cacheEntry{
		Info:      info,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Invalidate removes a cached resolution. Called after activation or
// deactivation so the next gate sees fresh state.
func (c *ResolutionCache) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// Stats returns cache statistics.
func (c *ResolutionCache) Stats() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := c.hitCount + c.missCount
	hitRatio := float64(0)
	if total > 0 {
		hitRatio = float64(c.hitCount) / float64(total)
	}

	return map[string]any{
		"entries":     len(c.entries),
		"max_size":    c.maxSize,
		"hit_count":   c.hitCount,
		"miss_count":  c.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *ResolutionCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
