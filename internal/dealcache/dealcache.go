package dealcache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/storage"
	"github.com/affstack/deal-search-bot/internal/util"
)

// Fetcher loads deal segments from the document database.
type Fetcher interface {
	DealsByGeo(ctx context.Context, geo string) ([]models.Deal, error)
	DealsByPartner(ctx context.Context, partner string) ([]models.Deal, error)
}

type segment struct {
	deals     []models.Deal
	fetchedAt time.Time
}

// Cache is the source of truth for deal filtering. Deals are cached in
// independent segments keyed by a single GEO code or a single partner name;
// refreshing one segment never touches another, which bounds the cost of a
// partial update. A segment miss fetches exactly that segment.
type Cache struct {
	fetcher    Fetcher
	ttl        time.Duration
	maxRetries int

	mu        sync.RWMutex
	byGeo     map[string]*segment
	byPartner map[string]*segment

	group singleflight.Group
}

func New(fetcher Fetcher, ttl time.Duration, maxRetries int) *Cache {
	return &Cache{
		fetcher:    fetcher,
		ttl:        ttl,
		maxRetries: maxRetries,
		byGeo:      make(map[string]*segment),
		byPartner:  make(map[string]*segment),
	}
}

// Query narrows by GEO segment union, intersects with the partner segment
// when a partner is set, then applies the free-form constraint predicate.
// The returned order is deterministic.
func (c *Cache) Query(ctx context.Context, filter models.ResolvedFilter) ([]models.Deal, error) {
	var pool []models.Deal

	switch {
	case len(filter.GeoCodes) > 0:
		seen := make(map[string]bool)
		for _, geo := range filter.GeoCodes {
			deals, err := c.segmentDeals(ctx, "geo", geo)
			if err != nil {
				return nil, err
			}
			for _, d := range deals {
				if !seen[d.ID] {
					seen[d.ID] = true
					pool = append(pool, d)
				}
			}
		}
		if filter.Partner != "" {
			filtered := pool[:0]
			for _, d := range pool {
				if strings.EqualFold(d.Partner, filter.Partner) {
					filtered = append(filtered, d)
				}
			}
			pool = filtered
		}
	case filter.Partner != "":
		deals, err := c.segmentDeals(ctx, "partner", filter.Partner)
		if err != nil {
			return nil, err
		}
		pool = deals
	default:
		// An all-partners/all-GEO filter must be expanded to concrete GEO
		// codes by the caller; the cache has no unsegmented fetch path.
		return nil, nil
	}

	result := applyConstraint(pool, filter.Constraint)
	sort.Slice(result, func(i, j int) bool {
		if result[i].Partner != result[j].Partner {
			return result[i].Partner < result[j].Partner
		}
		if result[i].Geo != result[j].Geo {
			return result[i].Geo < result[j].Geo
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// segmentDeals returns a fresh copy of one segment, fetching it when absent
// or stale. Concurrent requests for the same stale segment share a single
// in-flight fetch. When a refresh fails and a stale segment exists, the
// stale data is served once more.
func (c *Cache) segmentDeals(ctx context.Context, kind, key string) ([]models.Deal, error) {
	mapKey := strings.ToLower(key)

	c.mu.RLock()
	seg := c.lookup(kind, mapKey)
	c.mu.RUnlock()
	if seg != nil && time.Since(seg.fetchedAt) <= c.ttl {
		return cloneDeals(seg.deals), nil
	}

	v, err, _ := c.group.Do(kind+":"+mapKey, func() (interface{}, error) {
		// The flight may serve callers other than the one that opened it;
		// detach the opener's cancellation so it cannot fail every waiter.
		ctx := context.WithoutCancel(ctx)

		c.mu.RLock()
		seg := c.lookup(kind, mapKey)
		c.mu.RUnlock()
		if seg != nil && time.Since(seg.fetchedAt) <= c.ttl {
			return seg.deals, nil
		}

		var deals []models.Deal
		fetchErr := util.RetryWithBackoff(ctx, c.maxRetries, func(attempt int) error {
			var err error
			if kind == "geo" {
				deals, err = c.fetcher.DealsByGeo(ctx, key)
			} else {
				deals, err = c.fetcher.DealsByPartner(ctx, key)
			}
			if err != nil && !storage.IsTransient(err) {
				return util.Permanent(err)
			}
			return err
		})
		if fetchErr != nil {
			if seg != nil {
				slog.Warn("Segment refresh failed, serving stale data",
					"segment", kind+":"+key, "age", time.Since(seg.fetchedAt), "error", fetchErr)
				return seg.deals, nil
			}
			return nil, fetchErr
		}

		c.mu.Lock()
		c.store(kind, mapKey, &segment{deals: deals, fetchedAt: time.Now()})
		c.mu.Unlock()
		return deals, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneDeals(v.([]models.Deal)), nil
}

// cloneDeals shields the cache-owned backing array: callers sort and hold
// the returned slice (sessions, result cache) long after the segment is
// refreshed or read by someone else.
func cloneDeals(deals []models.Deal) []models.Deal {
	return append([]models.Deal(nil), deals...)
}

func (c *Cache) lookup(kind, key string) *segment {
	if kind == "geo" {
		return c.byGeo[key]
	}
	return c.byPartner[key]
}

func (c *Cache) store(kind, key string, seg *segment) {
	if kind == "geo" {
		c.byGeo[key] = seg
	} else {
		c.byPartner[key] = seg
	}
}

// applyConstraint keeps deals where every constraint token matches the
// deal's pricing model, language, a traffic source or a funnel name.
func applyConstraint(deals []models.Deal, constraint string) []models.Deal {
	tokens := strings.Fields(strings.ToLower(constraint))
	if len(tokens) == 0 {
		return deals
	}
	var out []models.Deal
	for _, d := range deals {
		if dealMatches(d, tokens) {
			out = append(out, d)
		}
	}
	return out
}

func dealMatches(d models.Deal, tokens []string) bool {
	for _, tok := range tokens {
		if !fieldMatches(d, tok) {
			return false
		}
	}
	return true
}

func fieldMatches(d models.Deal, tok string) bool {
	if strings.EqualFold(string(d.PricingModel), tok) || strings.EqualFold(d.Language, tok) {
		return true
	}
	for _, s := range d.TrafficSources {
		if strings.Contains(strings.ToLower(s), tok) {
			return true
		}
	}
	for _, f := range d.Funnels {
		if strings.Contains(strings.ToLower(f), tok) {
			return true
		}
	}
	return false
}
