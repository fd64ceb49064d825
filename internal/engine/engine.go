package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/affstack/deal-search-bot/internal/format"
	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/pricing"
	"github.com/affstack/deal-search-bot/internal/session"
)

// lowConfidenceThreshold is the parse confidence below which the user gets
// a warning prepended to their results. Resolution is never blocked on it.
const lowConfidenceThreshold = 0.5

// Engine drives the whole flow: inbound text through resolution, caching
// and session creation; button callbacks through the session state machine.
// It is transport-agnostic and returns render instructions.
type Engine struct {
	reference ReferenceCache
	resolver  QueryResolver
	deals     DealSource
	results   ResultCache
	sessions  *session.Store
	formatter *format.Formatter
}

func New(reference ReferenceCache, resolver QueryResolver, deals DealSource,
	results ResultCache, sessions *session.Store, formatter *format.Formatter) *Engine {
	return &Engine{
		reference: reference,
		resolver:  resolver,
		deals:     deals,
		results:   results,
		sessions:  sessions,
		formatter: formatter,
	}
}

// HandleMessage processes inbound free text: commands, or a search that
// creates a fresh session for the user.
func (e *Engine) HandleMessage(ctx context.Context, userID int64, text string) format.Render {
	text = strings.TrimSpace(text)
	switch text {
	case "/start":
		return format.Welcome()
	case "/help":
		return format.Help()
	case "/refresh":
		e.reference.Invalidate()
		return format.Render{Text: "Reference data will be refreshed on the next search."}
	}

	ref, err := e.reference.Get(ctx)
	if err != nil {
		slog.Error("Reference data unavailable", "user", userID, "error", err)
		return format.TryAgain()
	}

	filter := e.resolver.Resolve(ctx, text, ref)
	filter = expandAllGeos(filter, ref)

	deals, err := e.results.GetOrCompute(ctx, filter, func(ctx context.Context) ([]models.Deal, error) {
		return e.deals.Query(ctx, filter)
	})
	if err != nil {
		slog.Error("Deal search failed", "user", userID, "filterKey", filter.Key(), "error", err)
		return format.TryAgain()
	}

	slog.Info("Search resolved",
		"user", userID,
		"geos", len(filter.GeoCodes),
		"partner", filter.Partner,
		"confidence", filter.Confidence,
		"refVersion", filter.RefVersion,
		"results", len(deals))

	s := e.sessions.Start(userID, deals, filter.RefVersion)
	render := e.formatter.SelectionPage(s.Snapshot(), false)
	if text != "" && filter.Confidence < lowConfidenceThreshold && len(deals) > 0 {
		render = format.LowConfidence(render)
	}
	return render
}

// HandleCallback routes a button press through the session state machine.
// Every failure here is soft: invalid payloads and transitions re-render or
// return a short human-readable message, never an internal error.
func (e *Engine) HandleCallback(ctx context.Context, userID int64, payload string) format.Render {
	cb, err := format.ParseCallback(payload)
	if err != nil {
		slog.Warn("Unparseable callback payload", "user", userID, "payload", payload)
		return format.SessionExpired()
	}

	if cb.Action == format.ActionCancel {
		e.sessions.Cancel(userID)
		return format.Render{Text: "Search cancelled. Send me a new query any time.", Edit: true}
	}

	s, err := e.sessions.Get(userID)
	if err != nil {
		return format.SessionExpired()
	}

	switch cb.Action {
	case format.ActionSelect:
		snap, _ := s.Select(cb.DealID)
		return e.formatter.SelectionPage(snap, true)

	case format.ActionNext:
		snap, _ := s.NextPage()
		return e.formatter.SelectionPage(snap, true)

	case format.ActionPrev:
		snap, _ := s.PrevPage()
		return e.formatter.SelectionPage(snap, true)

	case format.ActionPriceNetwork:
		return e.renderForState(s.SetPricing(pricing.ModeNetwork))

	case format.ActionPriceBrand:
		return e.renderForState(s.SetPricing(pricing.ModeBrand))

	case format.ActionPriceToggle:
		return e.renderForState(s.TogglePricing())

	case format.ActionGetSelected:
		snap, ok := s.GetSelected()
		if !ok {
			// Soft rejection: nothing selected yet, stay on the page.
			return e.formatter.SelectionPage(snap, true)
		}
		return e.formatter.Review(snap)

	case format.ActionBackSelect:
		snap, _ := s.BackToSelect()
		return e.formatter.SelectionPage(snap, true)

	case format.ActionCopyAll:
		snap := s.Snapshot()
		if snap.State != session.StateReviewing || len(snap.Selected) == 0 {
			return e.formatter.SelectionPage(snap, true)
		}
		return e.formatter.Export(snap)
	}

	slog.Warn("Unhandled callback action", "user", userID, "action", cb.Action)
	return format.SessionExpired()
}

func (e *Engine) renderForState(snap session.Snapshot) format.Render {
	if snap.State == session.StateReviewing {
		return e.formatter.Review(snap)
	}
	return e.formatter.SelectionPage(snap, true)
}

// expandAllGeos turns an all-GEO filter into the concrete set of known
// codes, since the deal cache only fetches per-segment. The expansion is
// deterministic, so identical queries still share a cache key.
func expandAllGeos(filter models.ResolvedFilter, ref *models.ReferenceData) models.ResolvedFilter {
	if len(filter.GeoCodes) > 0 || filter.Partner != "" {
		return filter
	}
	set := make(map[string]bool)
	for _, codes := range ref.GeoGroups {
		for _, c := range codes {
			set[c] = true
		}
	}
	codes := make([]string, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	filter.GeoCodes = codes
	return filter
}
