package schema

import (
	"context"
	"sync"
	"time"
)

// Source produces schema snapshots.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Cache serves snapshots from a short-lived cache over a Source. Invalidate
// is the explicit hook for statements that change table structure.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	snapshot  Snapshot
	fetchedAt time.Time
	valid     bool
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// ttl <= 0 disables caching entirely; every call hits the source.
	if c.valid && c.ttl > 0 && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.snapshot, nil
	}

	snapshot, err := c.source.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	c.snapshot = snapshot
	c.fetchedAt = c.now()
	c.valid = true
	return snapshot, nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
