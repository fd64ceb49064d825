package session

import (
	"sync"
	"testing"

	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/pricing"
)

func dealList(n int) []models.Deal {
	deals := make([]models.Deal, n)
	for i := range deals {
		deals[i] = models.Deal{ID: string(rune('a' + i)), Partner: "Acme", Geo: "UK", PricingModel: models.PricingCPA}
	}
	return deals
}

// assertInvariants checks the subset and page-range invariants on a snapshot.
func assertInvariants(t *testing.T, snap Snapshot) {
	t.Helper()
	ids := make(map[string]bool)
	for _, d := range snap.Deals {
		ids[d.ID] = true
	}
	for id := range snap.Selected {
		if !ids[id] {
			t.Fatalf("Selected deal %q not in result list", id)
		}
	}
	if snap.TotalPages > 0 && (snap.Page < 0 || snap.Page >= snap.TotalPages) {
		t.Fatalf("Page %d out of range [0,%d)", snap.Page, snap.TotalPages)
	}
}

func TestSelect_TogglesMembership(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)

	snap, changed := s.Select("a")
	if !changed || !snap.Selected["a"] {
		t.Fatal("Expected deal a to be selected")
	}
	assertInvariants(t, snap)

	snap, changed = s.Select("a")
	if !changed || snap.Selected["a"] {
		t.Fatal("Expected second select to deselect")
	}
	assertInvariants(t, snap)
}

func TestSelect_UnknownDealIsNoOp(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)

	snap, changed := s.Select("zzz")
	if changed || len(snap.Selected) != 0 {
		t.Fatal("Selecting an unknown deal must be a no-op")
	}
	assertInvariants(t, snap)
}

func TestPaging_ClampsWithoutWrap(t *testing.T) {
	// 9 deals, page size 4 -> 3 pages.
	s := newSession(1, dealList(9), 1, 4)

	if snap := s.Snapshot(); snap.TotalPages != 3 {
		t.Fatalf("Expected 3 pages, got %d", snap.TotalPages)
	}

	snap, changed := s.PrevPage()
	if changed || snap.Page != 0 {
		t.Error("PrevPage at page 0 must be a no-op")
	}

	for i := 0; i < 5; i++ {
		snap, _ = s.NextPage()
		assertInvariants(t, snap)
	}
	if snap.Page != 2 {
		t.Errorf("NextPage past the last page must be a no-op, got page %d", snap.Page)
	}

	snap, changed = s.NextPage()
	if changed {
		t.Error("NextPage at the last page must report no change")
	}
}

func TestPaging_EmptyResultList(t *testing.T) {
	s := newSession(1, nil, 1, 4)

	snap := s.Snapshot()
	if snap.TotalPages != 0 {
		t.Fatalf("Empty result list must have 0 pages, got %d", snap.TotalPages)
	}
	if _, changed := s.NextPage(); changed {
		t.Error("Paging an empty session must be a no-op")
	}
	if _, changed := s.Select("a"); changed {
		t.Error("Selecting in an empty session must be a no-op")
	}
	if snap.State != StateSelecting {
		t.Error("Empty session is still a valid SELECTING state")
	}
}

func TestGetSelected_RequiresSelection(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)

	snap, ok := s.GetSelected()
	if ok || snap.State != StateSelecting {
		t.Fatal("GetSelected with empty selection must be rejected")
	}

	s.Select("a")
	snap, ok = s.GetSelected()
	if !ok || snap.State != StateReviewing {
		t.Fatal("GetSelected with a selection must transition to REVIEWING")
	}
	assertInvariants(t, snap)
}

func TestBackToSelect_PreservesSelectionAndPage(t *testing.T) {
	s := newSession(1, dealList(9), 1, 4)
	s.Select("a")
	s.NextPage()
	s.GetSelected()

	snap, ok := s.BackToSelect()
	if !ok || snap.State != StateSelecting {
		t.Fatal("BackToSelect must return to SELECTING")
	}
	if !snap.Selected["a"] {
		t.Error("Selection must survive the round trip")
	}
	if snap.Page != 1 {
		t.Errorf("Page must survive the round trip, got %d", snap.Page)
	}
}

func TestSelect_RejectedWhileReviewing(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)
	s.Select("a")
	s.GetSelected()

	snap, changed := s.Select("b")
	if changed || snap.Selected["b"] {
		t.Fatal("Select must be rejected in REVIEWING")
	}
}

func TestSetPricing_WorksInEitherState(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)

	if snap := s.SetPricing(pricing.ModeBrand); snap.Mode != pricing.ModeBrand {
		t.Error("SetPricing failed in SELECTING")
	}

	s.Select("a")
	s.GetSelected()
	if snap := s.SetPricing(pricing.ModeNetwork); snap.Mode != pricing.ModeNetwork {
		t.Error("SetPricing failed in REVIEWING")
	}
	if snap := s.Snapshot(); len(snap.Selected) != 1 {
		t.Error("SetPricing must not touch the selection")
	}
}

func TestTogglePricing_RoundTrip(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)

	first := s.Snapshot().Mode
	s.TogglePricing()
	snap := s.TogglePricing()
	if snap.Mode != first {
		t.Errorf("Double toggle must restore the mode, got %s", snap.Mode)
	}
}

func TestSelect_ConcurrentDistinctDealsBothApply(t *testing.T) {
	s := newSession(1, dealList(4), 1, 4)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Select(id)
		}(id)
	}
	wg.Wait()

	snap := s.Snapshot()
	if !snap.Selected["a"] || !snap.Selected["b"] {
		t.Fatalf("Both concurrent selects must apply, got %v", snap.Selected)
	}
	assertInvariants(t, snap)
}

func TestSnapshot_SelectionIsACopy(t *testing.T) {
	s := newSession(1, dealList(3), 1, 4)
	s.Select("a")

	snap := s.Snapshot()
	snap.Selected["b"] = true

	if s.Snapshot().Selected["b"] {
		t.Error("Mutating a snapshot must not leak into the session")
	}
}
