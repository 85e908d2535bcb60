package security

import (
	"strings"
	"sync"
	"time"

	"github.com/techsupport4/crm-auth/internal/core/port"
)

// RevokedTokenSet is an in-memory set of access token ids invalidated before
// their natural expiry. Entries are pruned lazily on lookup and in bulk by
// Prune; memory stays bounded by the access token lifetime.
type RevokedTokenSet struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevokedTokenSet constructs an empty set.
func NewRevokedTokenSet() *RevokedTokenSet {
	return &RevokedTokenSet{
		entries: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (s *RevokedTokenSet) WithClock(clock func() time.Time) *RevokedTokenSet {
	if clock != nil {
		s.mu.Lock()
		s.now = clock
		s.mu.Unlock()
	}
	return s
}

// Revoke records a token id until its expiry elapses. Already-expired ids are
// ignored.
func (s *RevokedTokenSet) Revoke(jti string, expiresAt time.Time) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return
	}

	expiresAt = expiresAt.UTC()
	if !expiresAt.After(s.currentTime()) {
		return
	}

	s.mu.Lock()
	s.entries[jti] = expiresAt
	s.mu.Unlock()
}

// IsRevoked reports whether the token id was revoked and is still inside its
// lifetime. Expired entries are removed on access.
func (s *RevokedTokenSet) IsRevoked(jti string) bool {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false
	}

	now := s.currentTime()
	s.mu.RLock()
	expiresAt, ok := s.entries[jti]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if !expiresAt.After(now) {
		s.mu.Lock()
		delete(s.entries, jti)
		s.mu.Unlock()
		return false
	}
	return true
}

// Prune drops every entry whose expiry has passed.
func (s *RevokedTokenSet) Prune() {
	now := s.currentTime()
	s.mu.Lock()
	for jti, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, jti)
		}
	}
	s.mu.Unlock()
}

func (s *RevokedTokenSet) currentTime() time.Time {
	s.mu.RLock()
	nowFn := s.now
	s.mu.RUnlock()
	return nowFn().UTC()
}

var _ port.RevokedAccessTokens = (*RevokedTokenSet)(nil)
