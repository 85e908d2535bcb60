package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/logger"
)

// SecurityEventRecorder persists and publishes security events. Recording is
// best effort: failures are logged and never propagate into the calling flow.
type SecurityEventRecorder struct {
	events    port.SecurityEventRepository
	publisher port.SecurityEventPublisher
	geo       port.GeoResolver
	logger    *zap.Logger
}

// NewSecurityEventRecorder constructs the recorder. The publisher and geo
// resolver are optional.
func NewSecurityEventRecorder(
	events port.SecurityEventRepository,
	publisher port.SecurityEventPublisher,
	geo port.GeoResolver,
	log *zap.Logger,
) *SecurityEventRecorder {
	return &SecurityEventRecorder{events: events, publisher: publisher, geo: geo, logger: log}
}

// RequestMeta carries the client attributes attached to every event.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Record enriches and stores one security event.
func (r *SecurityEventRecorder) Record(
	ctx context.Context,
	eventType domain.SecurityEventType,
	meta RequestMeta,
	userID *string,
	email *string,
	details map[string]any,
) {
	event := domain.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		UserID:    userID,
		Email:     email,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}

	if r.geo != nil {
		event.Geo = r.geo.Resolve(meta.IP)
	}

	if r.events != nil {
		if err := r.events.Append(ctx, event); err != nil {
			r.logger.Warn("persist security event failed",
				zap.String("event_type", string(eventType)),
				zap.String("ip", logger.MaskIP(meta.IP)),
				zap.Error(err),
			)
		}
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("publish security event failed",
				zap.String("event_type", string(eventType)),
				zap.Error(err),
			)
		}
	}
}

// List returns recent events for the admin security log view.
func (r *SecurityEventRecorder) List(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	return r.events.List(ctx, limit)
}
