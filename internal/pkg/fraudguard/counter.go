package fraudguard

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the shared windowed counter behind rate limiting and velocity
// checks. Multi-instance deployments must point it at a shared store;
// process-local counting silently weakens the limits.
type Counter interface {
	// Increment bumps the counter for key and returns the new count. The
	// key expires window after its first increment.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter on Redis INCR + PEXPIRE, correct across
// processes.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a counter on the given Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// MemoryCounter is a process-local Counter for tests and single-instance
// development setups.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  map[string]int64{},
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func (c *MemoryCounter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.expires[key]; ok && now.After(exp) {
		delete(c.counts, key)
		delete(c.expires, key)
	}
	c.counts[key]++
	if c.counts[key] == 1 {
		c.expires[key] = now.Add(window)
	}
	return c.counts[key], nil
}
