package session

import (
	"sync"

	"github.com/vango-dev/sessionbridge/pkg/auth"
)

// UserSlot holds the profile of the authenticated user. It starts empty, is
// replaced wholesale by a successful profile read and emptied on logout.
// Profiles are never merged.
type UserSlot struct {
	mu   sync.RWMutex
	user *auth.Profile
}

// Get returns the current profile or nil.
func (s *UserSlot) Get() *auth.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Present reports whether a profile is held.
func (s *UserSlot) Present() bool {
	return s.Get() != nil
}

// Set replaces the profile.
func (s *UserSlot) Set(p *auth.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = p
}

// Clear empties the slot.
func (s *UserSlot) Clear() {
	s.Set(nil)
}
