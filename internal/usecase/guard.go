package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
)

// LoginGuard throttles password attempts per client and target account before
// any credential check runs. It is independent of the per-account code guard:
// tripping one never resets or consults the other.
type LoginGuard struct {
	store       port.RateLimitStore
	window      time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewLoginGuard constructs the guard with its sliding window parameters.
func NewLoginGuard(store port.RateLimitStore, window time.Duration, maxAttempts int, log *zap.Logger) *LoginGuard {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	return &LoginGuard{store: store, window: window, maxAttempts: maxAttempts, logger: log}
}

// Allow reports whether the caller is still under the ceiling. Checking
// consumes no budget; only RecordFailure does. Store failures fail open so
// an unreachable Redis cannot lock everyone out.
func (g *LoginGuard) Allow(ctx context.Context, ip string, email string) bool {
	count, err := g.store.Count(ctx, g.key(ip, email), g.window)
	if err != nil {
		g.logger.Warn("login guard unavailable, failing open", zap.Error(err))
		return true
	}

	return count < g.maxAttempts
}

// RecordFailure consumes one unit of budget after a wrong password on a
// known account. Successful logins and unknown emails never count.
func (g *LoginGuard) RecordFailure(ctx context.Context, ip string, email string) {
	if _, err := g.store.Hit(ctx, g.key(ip, email), g.window); err != nil {
		g.logger.Warn("login guard record failed", zap.Error(err))
	}
}

func (g *LoginGuard) key(ip, email string) string {
	return fmt.Sprintf("%s:%s", ip, domain.NormalizeEmail(email))
}

// Reset clears the window for a client and account after a completed login.
func (g *LoginGuard) Reset(ctx context.Context, ip string, email string) {
	if err := g.store.Reset(ctx, g.key(ip, email)); err != nil {
		g.logger.Warn("login guard reset failed", zap.Error(err))
	}
}
