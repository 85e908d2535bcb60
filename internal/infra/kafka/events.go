package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/config"
	"github.com/techsupport4/crm-auth/internal/infra/logger"
)

const schemaVersion = "1.0"

// EventPublisher implements port.SecurityEventPublisher using Kafka. One topic
// per event type, prefixed with the configured topic prefix.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed security event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, log *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: log}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Publish sends a security event envelope to Kafka. Email and IP are masked
// before leaving the service.
func (p *EventPublisher) Publish(ctx context.Context, event domain.SecurityEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}

	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var email string
	if event.Email != nil {
		email = logger.MaskEmail(*event.Email)
	}

	var userID string
	if event.UserID != nil {
		userID = *event.UserID
	}

	payload := struct {
		IPAddress string         `json:"ip_address"`
		UserAgent string         `json:"user_agent"`
		Email     string         `json:"email,omitempty"`
		Country   string         `json:"country,omitempty"`
		Region    string         `json:"region,omitempty"`
		City      string         `json:"city,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
	}{
		IPAddress: logger.MaskIP(event.IPAddress),
		UserAgent: event.UserAgent,
		Email:     email,
		Country:   event.Geo.Country,
		Region:    event.Geo.Region,
		City:      event.Geo.City,
		Details:   event.Details,
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: string(event.Type),
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: map[string]string{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(fmt.Sprintf("security.%s", event.Type)),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the underlying producer.
func (p *EventPublisher) Close() error {
	return p.producer.Close()
}

var _ port.SecurityEventPublisher = (*EventPublisher)(nil)
