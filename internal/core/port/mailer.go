package port

import (
	"context"
	"time"
)

// LoginAlert describes a completed sign-in for the notification email.
type LoginAlert struct {
	At       time.Time
	IP       string
	Location string
	Device   string
}

// Mailer delivers account emails. Implementations must not log the code at
// default verbosity. Every delivery is best-effort from the caller's side.
type Mailer interface {
	SendLoginCode(ctx context.Context, to string, name string, code string, ttl time.Duration) error
	SendLoginAlert(ctx context.Context, to string, name string, alert LoginAlert) error
	SendWelcome(ctx context.Context, to string, name string) error
}
