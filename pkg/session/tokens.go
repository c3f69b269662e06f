package session

import (
	"sync"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
)

// DefaultRefreshCookieTTL matches the remote API's default refresh token
// lifetime.
const DefaultRefreshCookieTTL = 7 * 24 * time.Hour

// TokenStore holds the current token pair for one session.
type TokenStore interface {
	Get() auth.TokenPair
	Set(pair auth.TokenPair)
	Clear()

	// RefreshCookie is the cookie-backed accessor for the refresh token. In
	// cookie and session modes on the client it is a no-op stub.
	RefreshCookie() CookieAccessor
}

// MemoryTokens is the in-memory TokenStore used by both execution contexts.
// In json mode the refresh token is mirrored into the refresh cookie accessor
// so it survives a full page reload.
type MemoryTokens struct {
	mu      sync.RWMutex
	pair    auth.TokenPair
	refresh CookieAccessor
	mirror  bool
	ttl     time.Duration
}

// NewMemoryTokens creates a store. mirror enables refresh cookie mirroring.
func NewMemoryTokens(refresh CookieAccessor, mirror bool, ttl time.Duration) *MemoryTokens {
	if refresh == nil {
		refresh = opaqueCookie{}
	}
	if ttl <= 0 {
		ttl = DefaultRefreshCookieTTL
	}
	return &MemoryTokens{refresh: refresh, mirror: mirror, ttl: ttl}
}

// Get returns a copy of the current pair.
func (m *MemoryTokens) Get() auth.TokenPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair
}

// Set replaces the pair.
func (m *MemoryTokens) Set(pair auth.TokenPair) {
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()

	if m.mirror && pair.RefreshToken != "" && pair.RefreshToken != m.refresh.Value() {
		m.refresh.Set(pair.RefreshToken, m.ttl)
	}
}

// Clear drops the pair and the refresh cookie counterpart where this context
// is allowed to touch it.
func (m *MemoryTokens) Clear() {
	m.mu.Lock()
	m.pair = auth.TokenPair{}
	m.mu.Unlock()

	m.refresh.Clear()
}

// RefreshCookie implements TokenStore.
func (m *MemoryTokens) RefreshCookie() CookieAccessor { return m.refresh }
