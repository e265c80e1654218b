package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter keeps window counters in process
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
	now     func() time.Time
}

// NewMemoryCounter creates an empty MemoryCounter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*counterEntry),
		now:     time.Now,
	}
}

// Incr implements Counter
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &counterEntry{expiresAt: now.Add(ttl)}
		c.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// CleanupExpired removes all expired counters and reports how many
func (c *MemoryCounter) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired counters until stopCh closes
func (c *MemoryCounter) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
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

// The expiry is only set by the first increment of a window
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCounter shares window counters between gateway instances
type RedisCounter struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisCounter creates a counter whose keys are keyPrefix + window key
func NewRedisCounter(client redis.UniversalClient, keyPrefix string) *RedisCounter {
	if keyPrefix == "" {
		keyPrefix = "asg:ratelimit:"
	}
	return &RedisCounter{client: client, keyPrefix: keyPrefix}
}

// Incr implements Counter
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := incrScript.Run(ctx, c.client, []string{c.keyPrefix + key}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return n, nil
}
