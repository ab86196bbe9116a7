package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"

	"mangacatalog/pkg/models"
)

// Cache memoizes resolved series metadata by external id. Implementations
// must be safe for concurrent use and must not share returned values.
type Cache interface {
	Get(id string) (*models.Series, bool)
	Set(id string, s *models.Series) error
}

// MapCache is an unbounded in-memory cache living as long as the resolver
// that owns it, typically one crawl.
type MapCache struct {
	mu      sync.RWMutex
	entries map[string]*models.Series
}

// NewMapCache creates an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[string]*models.Series)}
}

func (c *MapCache) Get(id string) (*models.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return cloneSeries(s), true
}

func (c *MapCache) Set(id string, s *models.Series) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cloneSeries(s)
	return nil
}

// Len returns the number of cached series.
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BigCache stores entries serialized in a bigcache with a life window, for
// long-running serve mode where an unbounded map would only grow.
type BigCache struct {
	cache *bigcache.BigCache
}

// NewBigCache creates a BigCache evicting entries after lifeWindow.
func NewBigCache(ctx context.Context, lifeWindow time.Duration) (*BigCache, error) {
	cfg := bigcache.DefaultConfig(lifeWindow)
	cfg.Shards = 64
	cfg.CleanWindow = lifeWindow / 2
	cfg.MaxEntrySize = 4096
	cfg.HardMaxCacheSize = 64 // MB
	cfg.Verbose = false

	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create series cache: %w", err)
	}
	return &BigCache{cache: c}, nil
}

func (c *BigCache) Get(id string) (*models.Series, bool) {
	raw, err := c.cache.Get(id)
	if err != nil {
		return nil, false
	}
	var s models.Series
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// Set fails when the encoded series exceeds the shard size; the entry is
// then simply not memoized.
func (c *BigCache) Set(id string, s *models.Series) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode series %s: %w", id, err)
	}
	if err := c.cache.Set(id, raw); err != nil {
		return fmt.Errorf("memoize series %s: %w", id, err)
	}
	return nil
}

// Len returns the number of live entries.
func (c *BigCache) Len() int {
	return c.cache.Len()
}

// Close stops the background cleaner.
func (c *BigCache) Close() error {
	if err := c.cache.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cloneSeries(s *models.Series) *models.Series {
	return s.Clone()
}
