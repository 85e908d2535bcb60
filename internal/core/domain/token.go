package domain

import "time"

// RefreshToken is a persisted, rotating opaque credential. Only the SHA-256
// hash of the token value is stored; the plaintext is returned to the client
// exactly once at creation. Tokens issued across rotations of one login
// session share a family identifier.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	Family    string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Valid reports whether the token may still be presented at the reference
// time: unrevoked and unexpired.
func (t RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
