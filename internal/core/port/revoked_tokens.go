package port

import "time"

// RevokedAccessTokens tracks access token ids invalidated before their
// natural expiry, so logout takes effect immediately.
type RevokedAccessTokens interface {
	Revoke(jti string, expiresAt time.Time)
	IsRevoked(jti string) bool
}
