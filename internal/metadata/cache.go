package metadata

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bleepstore/filestorage/internal/metrics"
)

// Cached is a Store that serves GetFile from an LRU cache with a TTL.
// Writes go to the wrapped store first and then refresh the cache.
type Cached struct {
	Store
	cache *expirable.LRU[string, *FileRecord]
}

var _ Store = (*Cached)(nil)

// NewCached wraps store with a cache of at most size records, each expiring
// ttl after it was added.
func NewCached(store Store, size int, ttl time.Duration) *Cached {
	return &Cached{
		Store: store,
		cache: expirable.NewLRU[string, *FileRecord](size, nil, ttl),
	}
}

func (c *Cached) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	stored, err := c.Store.PutFile(ctx, rec)
	if err != nil {
		c.cache.Remove(rec.UUID)
		return nil, err
	}
	c.cache.Add(stored.UUID, cloneRecord(stored))
	return stored, nil
}

func (c *Cached) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	if rec, ok := c.cache.Get(uuid); ok {
		metrics.CacheHitsTotal.Inc()
		return cloneRecord(rec), nil
	}
	metrics.CacheMissesTotal.Inc()

	rec, err := c.Store.GetFile(ctx, uuid)
	if err != nil {
		return nil, err
	}
	c.cache.Add(uuid, cloneRecord(rec))
	return rec, nil
}

func (c *Cached) DeleteFile(ctx context.Context, uuid string) error {
	c.cache.Remove(uuid)
	return c.Store.DeleteFile(ctx, uuid)
}

// Len returns the number of cached records.
func (c *Cached) Len() int { return c.cache.Len() }
