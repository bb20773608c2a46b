package selection

import (
	"sync"
	"time"
)

// StickyCache maps client session keys to account IDs with TTL expiry and
// least-recently-used eviction. It is safe for concurrent use.
type StickyCache struct {
	entries map[string]*stickyEntry

	// ttl is the lifetime of an entry (0 = no expiry)
	ttl time.Duration

	// maxEntries bounds the cache (0 = unlimited)
	maxEntries int

	mu  sync.Mutex
	now func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
}

type stickyEntry struct {
	accountID  string
	expiresAt  time.Time
	lastAccess time.Time
}

// NewStickyCache creates a cache. When ttl is positive a background goroutine
// removes expired entries until Close is called.
func NewStickyCache(ttl time.Duration, maxEntries int) *StickyCache {
	c := &StickyCache{
		entries:    make(map[string]*stickyEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}

	if ttl > 0 {
		interval := ttl / 2
		if interval < 10*time.Second {
			interval = 10 * time.Second
		}
		go c.cleanupLoop(interval)
	}
	return c
}

// Get returns the account ID pinned to key. Expired entries are not
// returned. A hit refreshes the entry's LRU position but not its expiry.
func (c *StickyCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	now := c.now()
	if c.expired(e, now) {
		delete(c.entries, key)
		return "", false
	}
	e.lastAccess = now
	return e.accountID, true
}

// Set pins key to accountID, evicting the least recently used entry when the
// cache is full.
func (c *StickyCache) Set(key, accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	now := c.now()
	e := &stickyEntry{accountID: accountID, lastAccess: now}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}
	c.entries[key] = e
}

// Delete removes key.
func (c *StickyCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Size returns the number of entries, including expired ones not yet
// removed.
func (c *StickyCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *StickyCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func (c *StickyCache) expired(e *stickyEntry, now time.Time) bool {
	return c.ttl > 0 && now.After(e.expiresAt)
}

// evictLRU must be called with mu held.
func (c *StickyCache) evictLRU() {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for key, e := range c.entries {
		if !found || e.lastAccess.Before(oldestTime) {
			oldestKey, oldestTime, found = key, e.lastAccess, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

func (c *StickyCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *StickyCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
		}
	}
}
