package resultcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/affstack/deal-search-bot/internal/models"
)

// ComputeFunc produces the ordered deal list for a filter on a cache miss.
type ComputeFunc func(ctx context.Context) ([]models.Deal, error)

// Cache memoizes final filtered deal lists. The key embeds the reference
// version (via ResolvedFilter.Key), so a reference refresh yields fresh keys
// and stale entries simply age out; no cross-cache invalidation exists.
type Cache struct {
	entries *gocache.Cache
	group   singleflight.Group
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: gocache.New(ttl, 2*ttl),
	}
}

// GetOrCompute returns the memoized list for the filter, or invokes compute
// on a miss. Concurrent misses for the same key share one compute call.
func (c *Cache) GetOrCompute(ctx context.Context, filter models.ResolvedFilter, compute ComputeFunc) ([]models.Deal, error) {
	key := filter.Key()
	if v, found := c.entries.Get(key); found {
		return v.([]models.Deal), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, found := c.entries.Get(key); found {
			return v, nil
		}
		deals, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.entries.Set(key, deals, gocache.DefaultExpiration)
		return deals, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Deal), nil
}
