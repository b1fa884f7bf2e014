// Package auth answers who the current user is.
package auth

import "sync"

// Provider reports the signed-in user, if any.
type Provider interface {
	CurrentUser() (string, bool)
}

// Static is a Provider backed by a configured user ID. An empty ID means
// signed out.
type Static struct {
	mu     sync.RWMutex
	userID string
}

func NewStatic(userID string) *Static {
	return &Static{userID: userID}
}

func (s *Static) CurrentUser() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// SignIn sets the current user.
func (s *Static) SignIn(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// SignOut clears the current user.
func (s *Static) SignOut() {
	s.SignIn("")
}
