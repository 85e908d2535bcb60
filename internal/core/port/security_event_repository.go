package port

import (
	"context"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

// SecurityEventRepository is the append-only audit sink.
type SecurityEventRepository interface {
	Append(ctx context.Context, event domain.SecurityEvent) error
	List(ctx context.Context, limit int) ([]domain.SecurityEvent, error)
}
