package reference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/storage"
	"github.com/affstack/deal-search-bot/internal/util"
)

// Source fetches the raw reference lists from the document database.
type Source interface {
	ReferenceLists(ctx context.Context) (*storage.ReferenceLists, error)
}

// Cache holds the single live ReferenceData snapshot for the process.
// The snapshot is replaced atomically on refresh; the version token is
// bumped only when the rebuilt content actually differs, so unchanged
// refreshes do not churn search-result cache keys.
type Cache struct {
	source     Source
	ttl        time.Duration
	maxRetries int

	mu          sync.RWMutex
	current     *models.ReferenceData
	invalidated bool

	group singleflight.Group
}

func NewCache(source Source, ttl time.Duration, maxRetries int) *Cache {
	return &Cache{source: source, ttl: ttl, maxRetries: maxRetries}
}

// Get returns the current snapshot, refreshing synchronously when the live
// entry is stale or absent. Concurrent callers share one in-flight refresh.
// A refresh failure keeps serving the previous snapshot; the error return is
// non-nil only when there has never been a successful load.
func (c *Cache) Get(ctx context.Context) (*models.ReferenceData, error) {
	c.mu.RLock()
	current := c.current
	fresh := current != nil && !c.invalidated && time.Since(current.FetchedAt) <= c.ttl
	c.mu.RUnlock()
	if fresh {
		return current, nil
	}

	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed while this one waited.
		c.mu.RLock()
		cur := c.current
		fresh := cur != nil && !c.invalidated && time.Since(cur.FetchedAt) <= c.ttl
		c.mu.RUnlock()
		if fresh {
			return cur, nil
		}
		// The flight may serve callers other than the one that opened it;
		// detach the opener's cancellation so it cannot fail every waiter.
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ReferenceData), nil
}

// Invalidate forces the next Get to refresh regardless of TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}

func (c *Cache) refresh(ctx context.Context) (*models.ReferenceData, error) {
	var lists *storage.ReferenceLists
	err := util.RetryWithBackoff(ctx, c.maxRetries, func(attempt int) error {
		var fetchErr error
		lists, fetchErr = c.source.ReferenceLists(ctx)
		if fetchErr != nil && !storage.IsTransient(fetchErr) {
			return util.Permanent(fetchErr)
		}
		return fetchErr
	})
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != nil {
			// Graceful degradation: keep serving the stale snapshot.
			slog.Warn("Reference refresh failed, serving previous snapshot",
				"version", c.current.Version, "error", err)
			return c.current, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrNoReferenceData, err)
	}

	next := buildSnapshot(lists)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.ContentHash() == next.ContentHash() {
		// Same content: keep the version, just restart the TTL clock.
		next.Version = c.current.Version
	} else if c.current != nil {
		next.Version = c.current.Version + 1
	} else {
		next.Version = 1
	}
	c.current = next
	c.invalidated = false
	slog.Info("Reference data refreshed",
		"version", next.Version,
		"aliases", len(next.Aliases),
		"geoGroups", len(next.GeoGroups))
	return next, nil
}

// buildSnapshot rebuilds the alias and GEO maps in one pass over the raw
// lists. Keys are lowercased; canonical partner names and plain GEO codes
// map to themselves so exact-match lookups need no special casing.
func buildSnapshot(lists *storage.ReferenceLists) *models.ReferenceData {
	ref := &models.ReferenceData{
		Aliases:        make(map[string]string),
		GeoGroups:      make(map[string][]string),
		TrafficSources: append([]string(nil), lists.TrafficSources...),
		Funnels:        append([]string(nil), lists.Funnels...),
		FetchedAt:      time.Now(),
	}
	for _, p := range lists.Partners {
		ref.Aliases[strings.ToLower(p.Name)] = p.Name
		for _, alias := range p.Aliases {
			if alias == "" {
				continue
			}
			ref.Aliases[strings.ToLower(alias)] = p.Name
		}
	}
	for name, codes := range lists.GeoGroups {
		members := append([]string(nil), codes...)
		ref.GeoGroups[strings.ToLower(name)] = members
		for _, code := range codes {
			if _, ok := ref.GeoGroups[strings.ToLower(code)]; !ok {
				ref.GeoGroups[strings.ToLower(code)] = []string{code}
			}
		}
	}
	return ref
}
