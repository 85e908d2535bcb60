package port

import (
	"context"
	"time"
)

// PendingLoginStore holds the opaque handle issued after a correct password,
// mapping it to the user awaiting code verification. Entries expire with the
// code; the raw user id never leaves the server.
type PendingLoginStore interface {
	Put(ctx context.Context, handle string, userID string, ttl time.Duration) error
	Get(ctx context.Context, handle string) (string, error)
	Delete(ctx context.Context, handle string) error
}
