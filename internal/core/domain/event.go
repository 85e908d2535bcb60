package domain

import "time"

// SecurityEventType names the sensitive actions recorded for forensics.
type SecurityEventType string

const (
	EventLoginFailed       SecurityEventType = "login_failed"
	EventOTPFailed         SecurityEventType = "otp_failed"
	EventLoginSuccess      SecurityEventType = "login_success"
	EventRefreshTokenReuse SecurityEventType = "refresh_token_reuse"
	EventLogout            SecurityEventType = "logout"
	EventPasswordChanged   SecurityEventType = "password_changed"
)

// GeoLocation is the best-effort audit enrichment attached to an event.
// It is never used for access decisions.
type GeoLocation struct {
	Country string
	Region  string
	City    string
}

// SecurityEvent is an append-only audit record. The core never mutates or
// deletes rows of this type.
type SecurityEvent struct {
	ID        string
	Type      SecurityEventType
	IPAddress string
	UserAgent string
	UserID    *string
	Email     *string
	Geo       GeoLocation
	Details   map[string]any
	CreatedAt time.Time
}
