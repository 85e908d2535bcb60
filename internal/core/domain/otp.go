package domain

import "time"

// OneTimeCode is a short numeric login code bound to a single user.
// At most one active (unused, unexpired) code exists per user; issuing a new
// code invalidates all prior unused codes. Rows are retained for audit.
type OneTimeCode struct {
	ID         string
	UserID     string
	Code       string
	ExpiresAt  time.Time
	Used       bool
	LastSentAt time.Time
	CreatedAt  time.Time
}

// Active reports whether the code is still usable at the reference time.
// A code exactly at its expiry timestamp counts as expired.
func (c OneTimeCode) Active(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}

// OTPAttempt is an append-only failed-verification marker for a user.
type OTPAttempt struct {
	ID          string
	UserID      string
	AttemptedAt time.Time
}
