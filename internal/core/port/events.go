package port

import (
	"context"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

// SecurityEventPublisher fans security events out to external consumers.
// Publishing is best effort; failures are logged by callers and never
// propagate into request handling.
type SecurityEventPublisher interface {
	Publish(ctx context.Context, event domain.SecurityEvent) error
	Close() error
}
