package port

import (
	"context"
	"time"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

// TokenRepository manages rotating refresh token records.
type TokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// Rotate revokes the presented token and inserts its successor in one
	// transaction. The revocation only matches an unrevoked row, so of N
	// concurrent presenters exactly one succeeds; the rest get
	// repository.ErrNotFound and must treat the token as reused.
	Rotate(ctx context.Context, presentedID string, next domain.RefreshToken) error
	RevokeFamily(ctx context.Context, family string) (int, error)
	RevokeByUser(ctx context.Context, userID string) (int, error)
	// Cleanup deletes rows expired before the cutoff, plus revoked rows old
	// enough that keeping them no longer aids reuse detection.
	Cleanup(ctx context.Context, before time.Time) (int, error)
}
