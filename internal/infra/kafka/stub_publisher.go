package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: log}
}

// Publish logs the security event at info level with masked PII.
func (p *StubPublisher) Publish(_ context.Context, event domain.SecurityEvent) error {
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("ip_address", logger.MaskIP(event.IPAddress)),
		zap.Time("timestamp", ts.UTC()),
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", *event.UserID))
	}
	if event.Email != nil {
		fields = append(fields, zap.String("email", logger.MaskEmail(*event.Email)))
	}

	p.logger.Info("Stub event published", fields...)
	return nil
}

// Close is a no-op for the stub.
func (p *StubPublisher) Close() error {
	return nil
}

var _ port.SecurityEventPublisher = (*StubPublisher)(nil)
