package audio

import (
	"context"
	"sync"
)

// Cache stores raw asset bytes keyed by content hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Clear(ctx context.Context) error
}

// MemoryCache is the in-process first tier. It never evicts: a lesson's
// asset working set is small and bounded by the script.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

// TieredCache reads through a fast tier into a durable one. Hits in the
// slow tier are promoted; writes land in both.
type TieredCache struct {
	fast Cache
	slow Cache
}

func NewTieredCache(fast, slow Cache) *TieredCache {
	return &TieredCache{fast: fast, slow: slow}
}

func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok, err := c.fast.Get(ctx, key); err != nil || ok {
		return data, ok, err
	}
	data, ok, err := c.slow.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.fast.Put(ctx, key, data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *TieredCache) Put(ctx context.Context, key string, data []byte) error {
	if err := c.slow.Put(ctx, key, data); err != nil {
		return err
	}
	return c.fast.Put(ctx, key, data)
}

func (c *TieredCache) Clear(ctx context.Context) error {
	if err := c.fast.Clear(ctx); err != nil {
		return err
	}
	return c.slow.Clear(ctx)
}
