package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/repository"
)

// PendingLoginRepository stores password-verified login handles in Redis with
// a TTL matching the code lifetime.
type PendingLoginRepository struct {
	client *redis.Client
	prefix string
}

// NewPendingLoginRepository constructs the store with the given key prefix.
func NewPendingLoginRepository(client *redis.Client, prefix string) *PendingLoginRepository {
	return &PendingLoginRepository{client: client, prefix: prefix}
}

// Put maps an opaque handle to the awaiting user id.
func (r *PendingLoginRepository) Put(ctx context.Context, handle string, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(handle), userID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set pending login: %w", err)
	}
	return nil
}

// Get resolves a handle to its user id.
func (r *PendingLoginRepository) Get(ctx context.Context, handle string) (string, error) {
	value, err := r.client.Get(ctx, r.key(handle)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get pending login: %w", err)
	}
	return value, nil
}

// Delete discards a handle once consumed.
func (r *PendingLoginRepository) Delete(ctx context.Context, handle string) error {
	if err := r.client.Del(ctx, r.key(handle)).Err(); err != nil {
		return fmt.Errorf("redis del pending login: %w", err)
	}
	return nil
}

func (r *PendingLoginRepository) key(handle string) string {
	if r.prefix == "" {
		return handle
	}
	return fmt.Sprintf("%s:%s", r.prefix, handle)
}

var _ port.PendingLoginStore = (*PendingLoginRepository)(nil)
