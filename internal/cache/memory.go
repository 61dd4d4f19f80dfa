package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"leaddesk/api/internal/timeline"
)

// MemoryCache is a process-local timeline cache with per-entry expiry.
type MemoryCache struct {
	items *gocache.Cache
	ttl   time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cleanup := 2 * ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryCache{items: gocache.New(ttl, cleanup), ttl: ttl}
}

func (c *MemoryCache) Get(_ context.Context, leadID string) ([]timeline.Interaction, bool, error) {
	value, ok := c.items.Get(leadID)
	if !ok {
		return nil, false, nil
	}
	items, ok := value.([]timeline.Interaction)
	return items, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, leadID string, items []timeline.Interaction) error {
	c.items.Set(leadID, items, c.ttl)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, leadID string) error {
	c.items.Delete(leadID)
	return nil
}

func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}
