package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/repository"
)

// OTPRepository implements port.OTPRepository using PostgreSQL.
type OTPRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewOTPRepository constructs a PostgreSQL-backed OTP repository.
func NewOTPRepository(pool *pgxpool.Pool) *OTPRepository {
	return &OTPRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *OTPRepository) WithTx(tx pgx.Tx) *OTPRepository {
	if tx == nil {
		return r
	}
	return &OTPRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Replace invalidates every unused code for the user, clears the attempt
// trail, and inserts the new code inside a single transaction.
func (r *OTPRepository) Replace(ctx context.Context, code domain.OneTimeCode) error {
	if r.pool == nil {
		return r.replace(ctx, r.exec, code)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace otp tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.replace(ctx, tx, code); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace otp tx: %w", err)
	}

	return nil
}

func (r *OTPRepository) replace(ctx context.Context, exec pgExecutor, code domain.OneTimeCode) error {
	invalidate, args, err := r.builder.Update("crm.otp_codes").
		Set("used", true).
		Where(squirrel.Eq{"user_id": code.UserID, "used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build invalidate otp sql: %w", err)
	}

	if _, err := exec.Exec(ctx, invalidate, args...); err != nil {
		return fmt.Errorf("invalidate otp codes: %w", err)
	}

	reset, args, err := r.builder.Delete("crm.otp_attempts").
		Where(squirrel.Eq{"user_id": code.UserID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear otp attempts sql: %w", err)
	}

	if _, err := exec.Exec(ctx, reset, args...); err != nil {
		return fmt.Errorf("clear otp attempts: %w", err)
	}

	insert, args, err := r.builder.Insert("crm.otp_codes").
		Columns("id", "user_id", "code", "expires_at", "used", "last_sent_at", "created_at").
		Values(code.ID, code.UserID, code.Code, code.ExpiresAt, code.Used, code.LastSentAt, code.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert otp sql: %w", err)
	}

	if _, err := exec.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("insert otp code: %w", err)
	}

	return nil
}

// GetActiveByUser returns the single unused, unexpired code for a user.
func (r *OTPRepository) GetActiveByUser(ctx context.Context, userID string, now time.Time) (*domain.OneTimeCode, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "code", "expires_at", "used", "last_sent_at", "created_at").
		From("crm.otp_codes").
		Where(squirrel.Eq{"user_id": userID, "used": false}).
		Where(squirrel.Gt{"expires_at": now}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select otp sql: %w", err)
	}

	var code domain.OneTimeCode
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&code.ID,
		&code.UserID,
		&code.Code,
		&code.ExpiresAt,
		&code.Used,
		&code.LastSentAt,
		&code.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan otp code: %w", err)
	}

	return &code, nil
}

// MarkUsed consumes a code by id.
func (r *OTPRepository) MarkUsed(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("crm.otp_codes").
		Set("used", true).
		Where(squirrel.Eq{"id": id, "used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark otp used sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// TouchSent bumps last_sent_at on an unused code after a retransmission.
func (r *OTPRepository) TouchSent(ctx context.Context, id string, sentAt time.Time) error {
	stmt, args, err := r.builder.Update("crm.otp_codes").
		Set("last_sent_at", sentAt).
		Where(squirrel.Eq{"id": id, "used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch otp sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch otp: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RecordAttempt appends a failed verification marker.
func (r *OTPRepository) RecordAttempt(ctx context.Context, attempt domain.OTPAttempt) error {
	stmt, args, err := r.builder.Insert("crm.otp_attempts").
		Columns("id", "user_id", "attempted_at").
		Values(attempt.ID, attempt.UserID, attempt.AttemptedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert otp attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert otp attempt: %w", err)
	}

	return nil
}

// CountAttemptsSince counts failed attempts for a user inside the window.
func (r *OTPRepository) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	stmt, args, err := r.builder.Select("count(*)").
		From("crm.otp_attempts").
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.GtOrEq{"attempted_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count otp attempts sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count otp attempts: %w", err)
	}

	return count, nil
}

// ClearAttempts resets the failure counter after a successful verification.
func (r *OTPRepository) ClearAttempts(ctx context.Context, userID string) error {
	stmt, args, err := r.builder.Delete("crm.otp_attempts").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear otp attempts sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("clear otp attempts: %w", err)
	}

	return nil
}

var _ port.OTPRepository = (*OTPRepository)(nil)
