package policy

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MaxCacheTTL is the longest a cached policy may be served after a write made
// by another process.
const MaxCacheTTL = 60 * time.Second

// CachedStore fronts a durable Store with a bounded, expiring LRU. Reads
// may be up to ttl stale across processes. Writes made through this instance
// go to the durable store first and then replace the cached entry.
type CachedStore struct {
	store Store
	cache *expirable.LRU[string, Config]
}

// NewCachedStore builds the process-wide policy cache. ttl is clamped to
// (0, MaxCacheTTL]; size bounds the number of cached personas.
func NewCachedStore(store Store, size int, ttl time.Duration) *CachedStore {
	if store == nil {
		panic("policy: store cannot be nil")
	}
	if ttl <= 0 || ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	if size <= 0 {
		size = 1024
	}
	return &CachedStore{
		store: store,
		cache: expirable.NewLRU[string, Config](size, nil, ttl),
	}
}

func (c *CachedStore) Get(ctx context.Context, personaID string) (Config, error) {
	if cfg, ok := c.cache.Get(personaID); ok {
		return cfg, nil
	}
	cfg, err := c.store.Get(ctx, personaID)
	if err != nil {
		return Config{}, err
	}
	c.cache.Add(personaID, cfg)
	return cfg, nil
}

func (c *CachedStore) Put(ctx context.Context, cfg Config) error {
	cfg = cfg.Normalize()
	if err := c.store.Put(ctx, cfg); err != nil {
		return err
	}
	c.cache.Add(cfg.PersonaID, cfg)
	return nil
}

// Invalidate drops a cached entry so the next read hits the durable store.
func (c *CachedStore) Invalidate(personaID string) {
	c.cache.Remove(personaID)
}

// Len reports the number of cached personas.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}
