package dealcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/affstack/deal-search-bot/internal/models"
)

type fakeFetcher struct {
	mu           sync.Mutex
	geoCalls     map[string]int
	partnerCalls map[string]int
	byGeo        map[string][]models.Deal
	byPartner    map[string][]models.Deal
	err          error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		geoCalls:     make(map[string]int),
		partnerCalls: make(map[string]int),
		byGeo:        make(map[string][]models.Deal),
		byPartner:    make(map[string][]models.Deal),
	}
}

func (f *fakeFetcher) DealsByGeo(ctx context.Context, geo string) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geoCalls[geo]++
	if f.err != nil {
		return nil, f.err
	}
	return f.byGeo[geo], nil
}

func (f *fakeFetcher) DealsByPartner(ctx context.Context, partner string) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partnerCalls[partner]++
	if f.err != nil {
		return nil, f.err
	}
	return f.byPartner[partner], nil
}

func deal(id, partner, geo string, sources ...string) models.Deal {
	return models.Deal{
		ID: id, Partner: partner, Geo: geo,
		TrafficSources: sources,
		PricingModel:   models.PricingCPA,
	}
}

func TestQuery_GeoUnionDeduplicates(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{deal("d1", "Acme", "UK"), deal("d2", "Beta", "UK")}
	f.byGeo["FR"] = []models.Deal{deal("d3", "Acme", "FR")}
	cache := New(f, time.Minute, 0)

	deals, err := cache.Query(context.Background(), models.ResolvedFilter{GeoCodes: []string{"UK", "FR"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(deals) != 3 {
		t.Fatalf("Expected 3 deals from the GEO union, got %d", len(deals))
	}
}

func TestQuery_PartnerIntersection(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{deal("d1", "Acme", "UK"), deal("d2", "Beta", "UK")}
	cache := New(f, time.Minute, 0)

	deals, err := cache.Query(context.Background(), models.ResolvedFilter{
		GeoCodes: []string{"UK"}, Partner: "Acme",
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(deals) != 1 || deals[0].ID != "d1" {
		t.Fatalf("Expected only the Acme deal, got %v", deals)
	}
}

func TestQuery_PartnerOnlyUsesPartnerSegment(t *testing.T) {
	f := newFakeFetcher()
	f.byPartner["Acme"] = []models.Deal{deal("d1", "Acme", "UK"), deal("d4", "Acme", "DE")}
	cache := New(f, time.Minute, 0)

	deals, err := cache.Query(context.Background(), models.ResolvedFilter{Partner: "Acme"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("Expected 2 partner deals, got %d", len(deals))
	}
	if f.partnerCalls["Acme"] != 1 {
		t.Errorf("Expected 1 partner fetch, got %d", f.partnerCalls["Acme"])
	}
}

func TestQuery_ConstraintPredicate(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{
		deal("d1", "Acme", "UK", "Facebook"),
		deal("d2", "Beta", "UK", "Google"),
	}
	cache := New(f, time.Minute, 0)

	deals, err := cache.Query(context.Background(), models.ResolvedFilter{
		GeoCodes: []string{"UK"}, Constraint: "facebook",
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(deals) != 1 || deals[0].ID != "d1" {
		t.Fatalf("Expected the Facebook deal only, got %v", deals)
	}
}

func TestSegments_RefreshIsGranular(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{deal("d1", "Acme", "UK")}
	f.byGeo["FR"] = []models.Deal{deal("d3", "Acme", "FR")}
	cache := New(f, time.Minute, 0)

	ctx := context.Background()
	if _, err := cache.Query(ctx, models.ResolvedFilter{GeoCodes: []string{"UK", "FR"}}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// Expire only the UK segment.
	cache.mu.Lock()
	cache.byGeo["uk"].fetchedAt = time.Now().Add(-2 * time.Minute)
	cache.mu.Unlock()

	if _, err := cache.Query(ctx, models.ResolvedFilter{GeoCodes: []string{"UK", "FR"}}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if f.geoCalls["UK"] != 2 {
		t.Errorf("Expected UK to be refetched, got %d calls", f.geoCalls["UK"])
	}
	if f.geoCalls["FR"] != 1 {
		t.Errorf("FR segment must not be invalidated by the UK refresh, got %d calls", f.geoCalls["FR"])
	}
}

func TestSegments_StaleServedOnRefreshFailure(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{deal("d1", "Acme", "UK")}
	cache := New(f, time.Minute, 0)

	ctx := context.Background()
	if _, err := cache.Query(ctx, models.ResolvedFilter{GeoCodes: []string{"UK"}}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	cache.mu.Lock()
	cache.byGeo["uk"].fetchedAt = time.Now().Add(-2 * time.Minute)
	cache.mu.Unlock()
	f.mu.Lock()
	f.err = errors.New("firestore unavailable")
	f.mu.Unlock()

	deals, err := cache.Query(ctx, models.ResolvedFilter{GeoCodes: []string{"UK"}})
	if err != nil {
		t.Fatalf("Expected stale data on refresh failure, got error: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("Expected the stale deal, got %v", deals)
	}
}

func TestSegments_MissWithFailureIsAnError(t *testing.T) {
	f := newFakeFetcher()
	f.err = errors.New("firestore unavailable")
	cache := New(f, time.Minute, 0)

	_, err := cache.Query(context.Background(), models.ResolvedFilter{GeoCodes: []string{"UK"}})
	if err == nil {
		t.Fatal("Expected an error when a segment miss cannot be fetched")
	}
}

func TestQuery_DoesNotMutateCachedSegment(t *testing.T) {
	f := newFakeFetcher()
	f.byPartner["Acme"] = []models.Deal{
		deal("z", "Acme", "UK"),
		deal("a", "Acme", "DE"),
		deal("m", "Acme", "FR"),
	}
	cache := New(f, time.Minute, 0)
	filter := models.ResolvedFilter{Partner: "Acme"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deals, err := cache.Query(context.Background(), filter)
			if err != nil {
				t.Errorf("Query failed: %v", err)
				return
			}
			if deals[0].ID != "a" || deals[1].ID != "m" || deals[2].ID != "z" {
				t.Errorf("Expected sorted results, got %v", deals)
			}
		}()
	}
	wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []string{f.byPartner["Acme"][0].ID, f.byPartner["Acme"][1].ID, f.byPartner["Acme"][2].ID}
	if ids[0] != "z" || ids[1] != "a" || ids[2] != "m" {
		t.Errorf("Query must sort its own copy, not the cached segment, got order %v", ids)
	}
}

func TestSegmentFetch_DetachedFromCallerCancellation(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{deal("d1", "Acme", "UK")}
	cache := New(f, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deals, err := cache.Query(ctx, models.ResolvedFilter{GeoCodes: []string{"UK"}})
	if err != nil {
		t.Fatalf("A cancelled opener must not fail the shared fetch, got %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("Expected the fetched deal, got %v", deals)
	}
}

func TestQuery_DeterministicOrder(t *testing.T) {
	f := newFakeFetcher()
	f.byGeo["UK"] = []models.Deal{deal("d2", "Beta", "UK"), deal("d1", "Acme", "UK")}
	cache := New(f, time.Minute, 0)

	deals, err := cache.Query(context.Background(), models.ResolvedFilter{GeoCodes: []string{"UK"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if deals[0].ID != "d1" || deals[1].ID != "d2" {
		t.Errorf("Expected deterministic partner ordering, got %v", deals)
	}
}
