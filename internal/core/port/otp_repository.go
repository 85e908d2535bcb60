package port

import (
	"context"
	"time"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

// OTPRepository manages one-time login codes and their failed-attempt trail.
type OTPRepository interface {
	// Replace invalidates every unused code for the user, clears the
	// failed-attempt trail, and inserts the new code in a single transaction,
	// so at most one code is ever active and a fresh code always starts with
	// a clean failure budget.
	Replace(ctx context.Context, code domain.OneTimeCode) error
	GetActiveByUser(ctx context.Context, userID string, now time.Time) (*domain.OneTimeCode, error)
	MarkUsed(ctx context.Context, id string) error
	// TouchSent bumps last_sent_at on a still-unused code after a resend.
	TouchSent(ctx context.Context, id string, sentAt time.Time) error
	RecordAttempt(ctx context.Context, attempt domain.OTPAttempt) error
	CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)
	ClearAttempts(ctx context.Context, userID string) error
}
