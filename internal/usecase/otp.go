package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/config"
	"github.com/techsupport4/crm-auth/internal/infra/logger"
	"github.com/techsupport4/crm-auth/internal/infra/security"
	"github.com/techsupport4/crm-auth/internal/repository"
)

// OTPService issues and verifies one-time login codes, and enforces the
// per-account failure guard backed by the attempts table.
type OTPService struct {
	cfg    config.OTPSettings
	codes  port.OTPRepository
	mailer port.Mailer
	logger *zap.Logger
	now    func() time.Time
}

// NewOTPService constructs the service.
func NewOTPService(cfg config.OTPSettings, codes port.OTPRepository, mailer port.Mailer, log *zap.Logger) *OTPService {
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 30 * time.Minute
	}
	return &OTPService{
		cfg:    cfg,
		codes:  codes,
		mailer: mailer,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *OTPService) WithClock(clock func() time.Time) *OTPService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TTL returns the configured code lifetime.
func (s *OTPService) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue generates a fresh code for the user, invalidating any prior one and
// clearing the failure counter, then dispatches it by email. A delivery
// failure does not undo the issuance; the user can request a resend after
// the cooldown.
func (s *OTPService) Issue(ctx context.Context, user domain.User) error {
	now := s.now()

	value, err := security.GenerateNumericCode(s.cfg.Digits)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	code := domain.OneTimeCode{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Code:       value,
		ExpiresAt:  now.Add(s.cfg.TTL),
		LastSentAt: now,
		CreatedAt:  now,
	}

	if err := s.codes.Replace(ctx, code); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.mailer.SendLoginCode(ctx, user.Email, user.Name, value, s.cfg.TTL); err != nil {
		s.logger.Warn("otp delivery failed",
			zap.String("email", logger.MaskEmail(user.Email)),
			zap.Error(err),
		)
	}

	return nil
}

// Resend retransmits the still-active code after the cooldown. The code
// itself does not change and the failure counter is untouched, so a resend
// never extends a lockout's budget. A fresh code is minted only when no
// active one exists.
func (s *OTPService) Resend(ctx context.Context, user domain.User) error {
	now := s.now()

	active, err := s.codes.GetActiveByUser(ctx, user.ID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.Issue(ctx, user)
		}
		return fmt.Errorf("lookup active otp: %w", err)
	}

	if now.Sub(active.LastSentAt) < s.cfg.ResendCooldown {
		return ErrResendCooldown
	}

	if err := s.codes.TouchSent(ctx, active.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Consumed or replaced concurrently; start over.
			return s.Issue(ctx, user)
		}
		return fmt.Errorf("touch otp: %w", err)
	}

	if err := s.mailer.SendLoginCode(ctx, user.Email, user.Name, active.Code, active.ExpiresAt.Sub(now)); err != nil {
		s.logger.Warn("otp delivery failed",
			zap.String("email", logger.MaskEmail(user.Email)),
			zap.Error(err),
		)
	}

	return nil
}

// Verify checks a submitted code. Every failure path, wrong code, expired
// code, or no pending code, records an attempt and returns ErrInvalidOTP so
// callers cannot probe which case occurred. A successful verification
// consumes the code and clears the failure counter.
func (s *OTPService) Verify(ctx context.Context, userID string, submitted string) error {
	now := s.now()

	locked, err := s.Locked(ctx, userID)
	if err != nil {
		return err
	}
	if locked {
		return ErrOTPLocked
	}

	active, err := s.codes.GetActiveByUser(ctx, userID, now)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup active otp: %w", err)
	}

	match := active != nil &&
		subtle.ConstantTimeCompare([]byte(active.Code), []byte(submitted)) == 1

	if !match {
		attempt := domain.OTPAttempt{
			ID:          uuid.NewString(),
			UserID:      userID,
			AttemptedAt: now,
		}
		if err := s.codes.RecordAttempt(ctx, attempt); err != nil {
			s.logger.Warn("record otp attempt failed", zap.Error(err))
		}
		return ErrInvalidOTP
	}

	if err := s.codes.MarkUsed(ctx, active.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Consumed concurrently; the other verification won.
			return ErrInvalidOTP
		}
		return fmt.Errorf("consume otp: %w", err)
	}

	if err := s.codes.ClearAttempts(ctx, userID); err != nil {
		s.logger.Warn("clear otp attempts failed", zap.Error(err))
	}

	return nil
}

// Locked reports whether the account has exhausted its failure budget inside
// the rolling window.
func (s *OTPService) Locked(ctx context.Context, userID string) (bool, error) {
	since := s.now().Add(-s.cfg.AttemptWindow)
	count, err := s.codes.CountAttemptsSince(ctx, userID, since)
	if err != nil {
		return false, fmt.Errorf("count otp attempts: %w", err)
	}
	return count >= s.cfg.MaxAttempts, nil
}
