package policy

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
)

type cacheEntry struct {
	tenantID   uuid.UUID
	config     *models.PolicyConfig
	insertedAt time.Time
	element    *list.Element
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// PolicyCache is an LRU cache with TTL of tenant policies. Callers get
// clones, so cached configs are never mutated in place.
type PolicyCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewPolicyCache creates a new PolicyCache with specified max size and TTL
func NewPolicyCache(maxSize int, ttl time.Duration) *PolicyCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &PolicyCache{
		entries: make(map[uuid.UUID]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns a copy of the cached policy, or nil when absent or expired
func (c *PolicyCache) Get(tenantID uuid.UUID) *models.PolicyConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[tenantID]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(tenantID)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.config.Clone()
}

// Set stores a copy of cfg
func (c *PolicyCache) Set(tenantID uuid.UUID, cfg *models.PolicyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[tenantID]; exists {
		entry.config = cfg.Clone()
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		tenantID:   tenantID,
		config:     cfg.Clone(),
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(tenantID)
	c.entries[tenantID] = entry
}

// Invalidate removes the tenant's entry
func (c *PolicyCache) Invalidate(tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(tenantID)
}

// Clear removes all entries from the cache
func (c *PolicyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uuid.UUID]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *PolicyCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// must be called with lock held
func (c *PolicyCache) removeEntry(tenantID uuid.UUID) {
	if entry, exists := c.entries[tenantID]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, tenantID)
	}
}

// must be called with lock held
func (c *PolicyCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	tenantID := back.Value.(uuid.UUID)
	c.lruList.Remove(back)
	delete(c.entries, tenantID)
}

// CleanupExpired removes all expired entries and reports how many
func (c *PolicyCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for tenantID, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			c.removeEntry(tenantID)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh closes
func (c *PolicyCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
