package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/pricing"
)

// State is the workflow state of a user session.
type State string

const (
	StateSelecting State = "SELECTING"
	StateReviewing State = "REVIEWING"
)

// Session is the per-user ephemeral workflow state. All field access goes
// through the transition methods below, each of which holds the session
// mutex, so two rapid callback taps can never interleave into an
// inconsistent selection set or page.
//
// The deals slice is a reference into the search-result cache, never a copy.
// A session keeps working against its captured list even when the reference
// version advances; a new search re-resolves under the new version.
type Session struct {
	mu sync.Mutex

	userID     int64
	state      State
	deals      []models.Deal
	page       int
	selected   map[string]bool
	mode       pricing.Mode
	refVersion uint64
	pageSize   int
	lastActive time.Time
}

// Snapshot is an immutable copy of the session's observable state, taken
// under the session lock. Rendering works on snapshots only.
type Snapshot struct {
	State      State
	Deals      []models.Deal
	Page       int
	TotalPages int
	PageSize   int
	Selected   map[string]bool
	Mode       pricing.Mode
	RefVersion uint64
}

func newSession(userID int64, deals []models.Deal, refVersion uint64, pageSize int) *Session {
	return &Session{
		userID:     userID,
		state:      StateSelecting,
		deals:      deals,
		selected:   make(map[string]bool),
		mode:       pricing.ModeNetwork,
		refVersion: refVersion,
		pageSize:   pageSize,
		lastActive: time.Now(),
	}
}

func (s *Session) totalPages() int {
	return (len(s.deals) + s.pageSize - 1) / s.pageSize
}

// snapshot must be called with s.mu held.
func (s *Session) snapshot() Snapshot {
	selected := make(map[string]bool, len(s.selected))
	for id := range s.selected {
		selected[id] = true
	}
	return Snapshot{
		State:      s.state,
		Deals:      s.deals,
		Page:       s.page,
		TotalPages: s.totalPages(),
		PageSize:   s.pageSize,
		Selected:   selected,
		Mode:       s.mode,
		RefVersion: s.refVersion,
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Select toggles a deal in or out of the selection set. A deal id not in
// the captured result list is a soft no-op; selection is only legal while
// selecting. The returned bool reports whether anything changed.
func (s *Session) Select(dealID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()

	if s.state != StateSelecting || !s.hasDeal(dealID) {
		return s.snapshot(), false
	}
	if s.selected[dealID] {
		delete(s.selected, dealID)
	} else {
		s.selected[dealID] = true
	}
	s.checkInvariants()
	return s.snapshot(), true
}

// NextPage advances the page. Requests past the last page are no-ops;
// there is no wrap-around.
func (s *Session) NextPage() (Snapshot, bool) {
	return s.movePage(1)
}

// PrevPage moves back one page. Requests before page 0 are no-ops.
func (s *Session) PrevPage() (Snapshot, bool) {
	return s.movePage(-1)
}

func (s *Session) movePage(delta int) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()

	if s.state != StateSelecting {
		return s.snapshot(), false
	}
	next := s.page + delta
	if next < 0 || next >= s.totalPages() {
		return s.snapshot(), false
	}
	s.page = next
	return s.snapshot(), true
}

// SetPricing sets the pricing mode. Legal in either state; in REVIEWING it
// triggers a re-render but never touches the selection.
func (s *Session) SetPricing(mode pricing.Mode) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
	s.mode = mode
	return s.snapshot()
}

// TogglePricing flips between NETWORK and BRAND.
func (s *Session) TogglePricing() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
	s.mode = s.mode.Toggle()
	return s.snapshot()
}

// GetSelected transitions SELECTING → REVIEWING. It requires a non-empty
// selection; otherwise the transition is softly rejected.
func (s *Session) GetSelected() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()

	if s.state != StateSelecting || len(s.selected) == 0 {
		return s.snapshot(), false
	}
	s.state = StateReviewing
	return s.snapshot(), true
}

// BackToSelect transitions REVIEWING → SELECTING, preserving the selection
// set and the page.
func (s *Session) BackToSelect() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()

	if s.state != StateReviewing {
		return s.snapshot(), false
	}
	s.state = StateSelecting
	return s.snapshot(), true
}

func (s *Session) hasDeal(dealID string) bool {
	for i := range s.deals {
		if s.deals[i].ID == dealID {
			return true
		}
	}
	return false
}

// checkInvariants must be called with s.mu held. A violation means a bug in
// the state machine itself; it is logged as a fatal internal error, never
// silently repaired.
func (s *Session) checkInvariants() {
	for id := range s.selected {
		if !s.hasDeal(id) {
			slog.Error("Session invariant violated: selected deal not in result list",
				"user", s.userID, "deal", id)
		}
	}
	if total := s.totalPages(); total > 0 && (s.page < 0 || s.page >= total) {
		slog.Error("Session invariant violated: page out of range",
			"user", s.userID, "page", s.page, "totalPages", total)
	}
}
