package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
)

// SecurityEventRepository implements port.SecurityEventRepository using PostgreSQL.
// Rows are append-only; no update or delete statements exist here.
type SecurityEventRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityEventRepository constructs the audit repository.
func NewSecurityEventRepository(pool *pgxpool.Pool) *SecurityEventRepository {
	return &SecurityEventRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts one audit row.
func (r *SecurityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) error {
	var details []byte
	if event.Details != nil {
		payload, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		details = payload
	}

	stmt, args, err := r.builder.Insert("crm.security_logs").
		Columns(
			"id",
			"event_type",
			"ip_address",
			"user_agent",
			"user_id",
			"email",
			"geo_country",
			"geo_region",
			"geo_city",
			"details",
			"created_at",
		).
		Values(
			event.ID,
			string(event.Type),
			event.IPAddress,
			event.UserAgent,
			event.UserID,
			event.Email,
			event.Geo.Country,
			event.Geo.Region,
			event.Geo.City,
			details,
			event.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}

	return nil
}

// List returns the most recent events, newest first.
func (r *SecurityEventRepository) List(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	stmt, args, err := r.builder.
		Select(
			"id",
			"event_type",
			"ip_address",
			"user_agent",
			"user_id",
			"email",
			"geo_country",
			"geo_region",
			"geo_city",
			"details",
			"created_at",
		).
		From("crm.security_logs").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list security events sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var events []domain.SecurityEvent
	for rows.Next() {
		var (
			event     domain.SecurityEvent
			eventType string
			userID    sql.NullString
			email     sql.NullString
			details   []byte
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.IPAddress,
			&event.UserAgent,
			&userID,
			&email,
			&event.Geo.Country,
			&event.Geo.Region,
			&event.Geo.City,
			&details,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}

		event.Type = domain.SecurityEventType(eventType)
		if userID.Valid {
			value := userID.String
			event.UserID = &value
		}
		if email.Valid {
			value := email.String
			event.Email = &value
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}

	return events, nil
}

var _ port.SecurityEventRepository = (*SecurityEventRepository)(nil)
