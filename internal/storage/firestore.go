package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/affstack/deal-search-bot/internal/models"
)

const (
	dealsCollection     = "deals"
	partnersCollection  = "partners"
	geoGroupsCollection = "geo_groups"
)

var validate = validator.New()

// validDeal checks a fetched deal against the struct tags on models.Deal.
// Malformed documents are skipped on ingest, never cached.
func validDeal(d *models.Deal) error {
	return validate.Struct(d)
}

// partnerDoc is the stored shape of a partner record: the canonical name
// plus every alias that should resolve to it.
type partnerDoc struct {
	Name    string   `firestore:"name"`
	Aliases []string `firestore:"aliases,omitempty"`
}

// geoGroupDoc is the stored shape of a GEO group: a group name (or a plain
// code, in which case Codes holds just itself) and its member codes.
type geoGroupDoc struct {
	Name  string   `firestore:"name"`
	Codes []string `firestore:"codes"`
}

// ReferenceLists is the raw reference payload fetched in one pass; the
// reference cache turns it into a versioned snapshot.
type ReferenceLists struct {
	Partners       []Partner
	GeoGroups      map[string][]string
	TrafficSources []string
	Funnels        []string
}

type Partner struct {
	Name    string
	Aliases []string
}

// Client wraps Firestore access. The database is a rate-limited remote
// source, so every query passes through a shared limiter.
type Client struct {
	client  *firestore.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func New(ctx context.Context, projectID string, qps float64, timeout time.Duration) (*Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Client{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(qps), 1),
		timeout: timeout,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// DealsByGeo fetches every deal for one GEO code.
func (c *Client) DealsByGeo(ctx context.Context, geo string) ([]models.Deal, error) {
	return c.queryDeals(ctx, c.client.Collection(dealsCollection).Where("geo", "==", geo))
}

// DealsByPartner fetches every deal for one canonical partner name.
func (c *Client) DealsByPartner(ctx context.Context, partner string) ([]models.Deal, error) {
	return c.queryDeals(ctx, c.client.Collection(dealsCollection).Where("partner", "==", partner))
}

func (c *Client) queryDeals(ctx context.Context, q firestore.Query) ([]models.Deal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	iter := q.Documents(ctx)
	defer iter.Stop()

	now := time.Now()
	var deals []models.Deal
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate deals: %w", err)
		}
		var deal models.Deal
		if err := doc.DataTo(&deal); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deal %s: %w", doc.Ref.ID, err)
		}
		deal.ID = doc.Ref.ID
		deal.FetchedAt = now
		if err := validDeal(&deal); err != nil {
			slog.Warn("Skipping invalid deal document", "deal", doc.Ref.ID, "error", err)
			continue
		}
		deals = append(deals, deal)
	}
	return deals, nil
}

// ReferenceLists fetches the partner and GEO reference collections plus the
// distinct traffic sources and funnel names seen on deals, in one pass.
func (c *Client) ReferenceLists(ctx context.Context) (*ReferenceLists, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	lists := &ReferenceLists{GeoGroups: make(map[string][]string)}

	partnerIter := c.client.Collection(partnersCollection).Documents(ctx)
	defer partnerIter.Stop()
	for {
		doc, err := partnerIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate partners: %w", err)
		}
		var p partnerDoc
		if err := doc.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal partner %s: %w", doc.Ref.ID, err)
		}
		if p.Name == "" {
			continue
		}
		lists.Partners = append(lists.Partners, Partner{Name: p.Name, Aliases: p.Aliases})
	}

	groupIter := c.client.Collection(geoGroupsCollection).Documents(ctx)
	defer groupIter.Stop()
	for {
		doc, err := groupIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate geo groups: %w", err)
		}
		var g geoGroupDoc
		if err := doc.DataTo(&g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal geo group %s: %w", doc.Ref.ID, err)
		}
		if g.Name == "" || len(g.Codes) == 0 {
			continue
		}
		lists.GeoGroups[g.Name] = g.Codes
	}

	// Traffic sources and funnels come from the deal records themselves.
	sourceSet := make(map[string]bool)
	funnelSet := make(map[string]bool)
	dealIter := c.client.Collection(dealsCollection).Select("trafficSources", "funnels").Documents(ctx)
	defer dealIter.Stop()
	for {
		doc, err := dealIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate deal metadata: %w", err)
		}
		var deal models.Deal
		if err := doc.DataTo(&deal); err != nil {
			continue
		}
		for _, s := range deal.TrafficSources {
			if s != "" && !sourceSet[s] {
				sourceSet[s] = true
				lists.TrafficSources = append(lists.TrafficSources, s)
			}
		}
		for _, f := range deal.Funnels {
			if f != "" && !funnelSet[f] {
				funnelSet[f] = true
				lists.Funnels = append(lists.Funnels, f)
			}
		}
	}

	return lists, nil
}
