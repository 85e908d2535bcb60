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

// TokenRepository implements port.TokenRepository using PostgreSQL.
type TokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a new token repository.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a refresh token row.
func (r *TokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("crm.refresh_tokens").
		Columns("id", "user_id", "token_hash", "family", "revoked", "expires_at", "created_at").
		Values(token.ID, token.UserID, token.TokenHash, token.Family, token.Revoked, token.ExpiresAt, token.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByHash retrieves a refresh token record by its hashed value.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "token_hash", "family", "revoked", "expires_at", "created_at").
		From("crm.refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var token domain.RefreshToken
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.Family,
		&token.Revoked,
		&token.ExpiresAt,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &token, nil
}

// Rotate revokes the presented token and inserts its successor atomically.
// The revoke update matches only an unrevoked row; with concurrent presenters
// of the same token exactly one transaction sees RowsAffected == 1, the rest
// return repository.ErrNotFound without inserting anything.
func (r *TokenRepository) Rotate(ctx context.Context, presentedID string, next domain.RefreshToken) error {
	if r.pool == nil {
		return r.rotate(ctx, r.exec, presentedID, next)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.rotate(ctx, tx, presentedID, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}

	return nil
}

func (r *TokenRepository) rotate(ctx context.Context, exec pgExecutor, presentedID string, next domain.RefreshToken) error {
	revoke, args, err := r.builder.Update("crm.refresh_tokens").
		Set("revoked", true).
		Where(squirrel.Eq{"id": presentedID, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke presented token sql: %w", err)
	}

	ct, err := exec.Exec(ctx, revoke, args...)
	if err != nil {
		return fmt.Errorf("revoke presented token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	insert, args, err := r.builder.Insert("crm.refresh_tokens").
		Columns("id", "user_id", "token_hash", "family", "revoked", "expires_at", "created_at").
		Values(next.ID, next.UserID, next.TokenHash, next.Family, next.Revoked, next.ExpiresAt, next.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert successor token sql: %w", err)
	}

	if _, err := exec.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("insert successor token: %w", err)
	}

	return nil
}

// RevokeFamily revokes every active token in the supplied family.
func (r *TokenRepository) RevokeFamily(ctx context.Context, family string) (int, error) {
	stmt, args, err := r.builder.Update("crm.refresh_tokens").
		Set("revoked", true).
		Where(squirrel.Eq{"family": family, "revoked": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke family sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// RevokeByUser revokes every active token belonging to a user.
func (r *TokenRepository) RevokeByUser(ctx context.Context, userID string) (int, error) {
	stmt, args, err := r.builder.Update("crm.refresh_tokens").
		Set("revoked", true).
		Where(squirrel.Eq{"user_id": userID, "revoked": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke user tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// revokedRetention is how long a revoked row outlives its revocation. Inside
// that window a replayed rotated token is still recognized as reuse instead
// of an unknown token.
const revokedRetention = 24 * time.Hour

// Cleanup removes rows whose lifetime ended before the cutoff, along with
// revoked rows created more than the retention period ago.
func (r *TokenRepository) Cleanup(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("crm.refresh_tokens").
		Where(squirrel.Or{
			squirrel.Lt{"expires_at": before},
			squirrel.And{
				squirrel.Eq{"revoked": true},
				squirrel.Lt{"created_at": before.Add(-revokedRetention)},
			},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cleanup tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
