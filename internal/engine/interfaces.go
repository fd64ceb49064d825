package engine

import (
	"context"

	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/resultcache"
)

// ReferenceCache serves the versioned reference snapshot.
type ReferenceCache interface {
	Get(ctx context.Context) (*models.ReferenceData, error)
	Invalidate()
}

// QueryResolver turns free text into a structured filter.
type QueryResolver interface {
	Resolve(ctx context.Context, raw string, ref *models.ReferenceData) models.ResolvedFilter
}

// DealSource executes a resolved filter against the deal cache.
type DealSource interface {
	Query(ctx context.Context, filter models.ResolvedFilter) ([]models.Deal, error)
}

// ResultCache memoizes final filtered deal lists per filter key.
type ResultCache interface {
	GetOrCompute(ctx context.Context, filter models.ResolvedFilter, compute resultcache.ComputeFunc) ([]models.Deal, error)
}
