package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/techsupport4/crm-auth/internal/core/port"
)

// RateLimitRepository counts events in Redis sorted sets keyed by caller
// identity. Scores are nanosecond timestamps; members carry a uuid suffix so
// two events in the same nanosecond both count.
type RateLimitRepository struct {
	client *redis.Client
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client.
func NewRateLimitRepository(client *redis.Client, prefix string) *RateLimitRepository {
	return &RateLimitRepository{client: client, prefix: prefix}
}

// Hit records one event and returns the count still inside the window.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	now := time.Now()
	fullKey := r.key(key)
	threshold := fmt.Sprintf("%d", now.Add(-window).UnixNano())

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "-inf", threshold)
	pipe.ZAdd(ctx, fullKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()),
	})
	card := pipe.ZCard(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis rate limit pipeline: %w", err)
	}

	return int(card.Val()), nil
}

// Count returns the events inside the window without recording a new one.
func (r *RateLimitRepository) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	fullKey := r.key(key)
	threshold := fmt.Sprintf("%d", time.Now().Add(-window).UnixNano())

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "-inf", threshold)
	card := pipe.ZCard(ctx, fullKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis rate limit count: %w", err)
	}

	return int(card.Val()), nil
}

// Reset clears the counter for a key.
func (r *RateLimitRepository) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
