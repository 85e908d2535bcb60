package port

import (
	"context"
	"time"
)

// RateLimitStore counts events in a sliding window per key.
type RateLimitStore interface {
	// Hit records one event for the key and returns the number of events
	// still inside the window, including the one just recorded.
	Hit(ctx context.Context, key string, window time.Duration) (int, error)
	// Count returns the number of events inside the window without
	// recording a new one.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}
