// Package session keeps short-lived server-side session state: the signed-in
// user and the per-share-code access flags of the visitor.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session is one visitor's state. Anonymous sessions have UserID 0.
type Session struct {
	ID        string
	UserID    int64
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time

	mu       sync.Mutex
	verified map[string]bool // share codes whose password was accepted
	counted  map[string]bool // share codes already counted as a view
	flash    string
}

// IsAuthenticated reports whether a user is signed in.
func (s *Session) IsAuthenticated() bool {
	return s.UserID != 0
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ShareVerified reports whether the share password was accepted earlier.
func (s *Session) ShareVerified(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[code]
}

// MarkShareVerified records an accepted share password.
func (s *Session) MarkShareVerified(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[code] = true
}

// ShareCounted reports whether a view of the share was already counted.
func (s *Session) ShareCounted(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counted[code]
}

// ClaimShareView marks the share as counted and reports whether this call
// did so. Only one of several concurrent requests wins.
func (s *Session) ClaimShareView(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counted[code] {
		return false
	}
	s.counted[code] = true
	return true
}

// ReleaseShareView undoes ClaimShareView when the view could not be counted.
func (s *Session) ReleaseShareView(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counted, code)
}

// SetFlash stores a one-off notice for the next page.
func (s *Session) SetFlash(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash = msg
}

// PopFlash returns and clears the pending notice.
func (s *Session) PopFlash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.flash
	s.flash = ""
	return msg
}

// Store is an in-memory session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a store whose sessions live for ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create starts a new anonymous session.
func (st *Store) Create() (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}

	now := st.now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(st.ttl),
		verified:  make(map[string]bool),
		counted:   make(map[string]bool),
	}

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()
	return s, nil
}

// Get retrieves a live session by ID.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired(st.now()) {
		st.Destroy(id)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// SignIn replaces old with a fresh session bound to the user. Share flags
// carry over so a visitor does not re-enter share passwords after signing in.
func (st *Store) SignIn(old *Session, userID int64, role string) (*Session, error) {
	s, err := st.Create()
	if err != nil {
		return nil, err
	}
	s.UserID = userID
	s.Role = role

	if old != nil {
		old.mu.Lock()
		for code := range old.verified {
			s.verified[code] = true
		}
		for code := range old.counted {
			s.counted[code] = true
		}
		old.mu.Unlock()
		st.Destroy(old.ID)
	}
	return s, nil
}

// Destroy removes a session (sign-out).
func (st *Store) Destroy(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len reports how many sessions the store holds, expired ones included.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// DeleteExpired removes all expired sessions and returns how many went.
func (st *Store) DeleteExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	var count int
	for id, s := range st.sessions {
		if s.IsExpired(now) {
			delete(st.sessions, id)
			count++
		}
	}
	return count
}

func generateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
