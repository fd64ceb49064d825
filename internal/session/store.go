package session

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/affstack/deal-search-bot/internal/models"
)

// Store keys sessions by user identifier. Idle sessions are reclaimed by
// the cache janitor after the inactivity timeout; every transition re-arms
// the timeout. Reclamation removes the map entry only — a transition already
// holding the *Session keeps its own lock and finishes safely, after which
// the session is simply unreachable.
type Store struct {
	sessions *gocache.Cache
	timeout  time.Duration
	pageSize int
}

func NewStore(timeout time.Duration, pageSize int) *Store {
	return &Store{
		sessions: gocache.New(timeout, 5*time.Minute),
		timeout:  timeout,
		pageSize: pageSize,
	}
}

// Start creates (or replaces) the session for a user after a search.
func (st *Store) Start(userID int64, deals []models.Deal, refVersion uint64) *Session {
	s := newSession(userID, deals, refVersion, st.pageSize)
	st.sessions.Set(key(userID), s, gocache.DefaultExpiration)
	return s
}

// Get returns the live session for a user, re-arming its expiration.
// models.ErrSessionNotFound means the session expired or was cancelled.
func (st *Store) Get(userID int64) (*Session, error) {
	v, found := st.sessions.Get(key(userID))
	if !found {
		return nil, models.ErrSessionNotFound
	}
	s := v.(*Session)
	st.sessions.Set(key(userID), s, gocache.DefaultExpiration)
	return s, nil
}

// Cancel removes a user's session. Acting on it afterwards yields
// models.ErrSessionNotFound.
func (st *Store) Cancel(userID int64) {
	st.sessions.Delete(key(userID))
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
