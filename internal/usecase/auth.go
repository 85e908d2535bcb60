package usecase

import (
	"context"
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

const refreshTokenBytes = 32

// TokenPair is the result of a completed authentication or rotation.
type TokenPair struct {
	AccessToken   string
	AccessClaims  *security.AccessTokenClaims
	RefreshToken  string
	RefreshExpiry time.Time
	User          domain.User
}

// AuthService coordinates the two-step login, token rotation, and logout.
type AuthService struct {
	cfg      *config.AppConfig
	users    port.UserRepository
	tokens   port.TokenRepository
	pending  port.PendingLoginStore
	otp      *OTPService
	guard    *LoginGuard
	hasher   *security.PasswordHasher
	signer   *security.TokenSigner
	revoked  port.RevokedAccessTokens
	recorder *SecurityEventRecorder
	policy   domain.SuperAdminPolicy
	logger   *zap.Logger
	now      func() time.Time

	validator *security.PasswordValidator
	mailer    port.Mailer
	geo       port.GeoResolver
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	tokens port.TokenRepository,
	pending port.PendingLoginStore,
	otp *OTPService,
	guard *LoginGuard,
	hasher *security.PasswordHasher,
	signer *security.TokenSigner,
	revoked port.RevokedAccessTokens,
	recorder *SecurityEventRecorder,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		pending:  pending,
		otp:      otp,
		guard:    guard,
		hasher:   hasher,
		signer:   signer,
		revoked:  revoked,
		recorder: recorder,
		policy:   domain.NewSuperAdminPolicy(cfg.Admin.SuperAdminEmail),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },

		validator: security.DefaultPasswordValidator(),
	}
}

// WithLoginAlerts enables best-effort sign-in notification emails. The geo
// resolver fills the location line and may be nil.
func (s *AuthService) WithLoginAlerts(mailer port.Mailer, geo port.GeoResolver) *AuthService {
	s.mailer = mailer
	s.geo = geo
	return s
}

// WithPasswordValidator overrides the policy applied to new passwords.
func (s *AuthService) WithPasswordValidator(v *security.PasswordValidator) *AuthService {
	if v != nil {
		s.validator = v
	}
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *AuthService) WithClock(clock func() time.Time) *AuthService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Policy exposes the reserved super-admin policy for authorization layers.
func (s *AuthService) Policy() domain.SuperAdminPolicy {
	return s.policy
}

// Login performs the password step. On success it issues a one-time code and
// returns an opaque handle the client presents together with the code. The
// raw user id never leaves the server before the code is verified.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (string, error) {
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	if !s.guard.Allow(ctx, meta.IP, email) {
		s.recorder.Record(ctx, domain.EventLoginFailed, meta, nil, &email,
			map[string]any{"reason": "rate_limited"})
		return "", ErrTooManyAttempts
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recorder.Record(ctx, domain.EventLoginFailed, meta, nil, &email,
				map[string]any{"reason": "unknown_account"})
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.guard.RecordFailure(ctx, meta.IP, email)
		s.recorder.Record(ctx, domain.EventLoginFailed, meta, &user.ID, &user.Email,
			map[string]any{"reason": "wrong_password"})
		return "", ErrInvalidCredentials
	}

	if !user.IsActive && !s.policy.IsReserved(user.Email) {
		s.recorder.Record(ctx, domain.EventLoginFailed, meta, &user.ID, &user.Email,
			map[string]any{"reason": "inactive"})
		return "", ErrInactiveAccount
	}

	if err := s.otp.Issue(ctx, *user); err != nil {
		return "", err
	}

	handle, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate login handle: %w", err)
	}
	if err := s.pending.Put(ctx, handle, user.ID, s.otp.TTL()); err != nil {
		return "", fmt.Errorf("store login handle: %w", err)
	}

	return handle, nil
}

// ResendCode re-dispatches the pending login code, subject to the cooldown.
func (s *AuthService) ResendCode(ctx context.Context, handle string, meta RequestMeta) error {
	user, err := s.pendingUser(ctx, handle)
	if err != nil {
		return err
	}

	return s.otp.Resend(ctx, *user)
}

// VerifyCode completes the login: it validates the code, consumes the pending
// handle, and mints the access and refresh tokens.
func (s *AuthService) VerifyCode(ctx context.Context, handle, code string, meta RequestMeta) (*TokenPair, error) {
	user, err := s.pendingUser(ctx, handle)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Verify(ctx, user.ID, code); err != nil {
		if errors.Is(err, ErrInvalidOTP) || errors.Is(err, ErrOTPLocked) {
			s.recorder.Record(ctx, domain.EventOTPFailed, meta, &user.ID, &user.Email, nil)
		}
		return nil, err
	}

	if err := s.pending.Delete(ctx, handle); err != nil {
		s.logger.Warn("delete login handle failed", zap.Error(err))
	}
	s.guard.Reset(ctx, meta.IP, user.Email)

	pair, err := s.issueTokens(ctx, *user, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, domain.EventLoginSuccess, meta, &user.ID, &user.Email, nil)
	s.sendLoginAlert(ctx, *user, meta)
	return pair, nil
}

// sendLoginAlert dispatches the sign-in notification. Failures are logged and
// never surface to the login flow.
func (s *AuthService) sendLoginAlert(ctx context.Context, user domain.User, meta RequestMeta) {
	if s.mailer == nil {
		return
	}

	location := "Unknown"
	if s.geo != nil {
		geo := s.geo.Resolve(meta.IP)
		if geo.City != "" && geo.Country != "" {
			location = geo.City + ", " + geo.Country
		}
	}

	alert := port.LoginAlert{
		At:       s.now(),
		IP:       meta.IP,
		Location: location,
		Device:   meta.UserAgent,
	}
	if err := s.mailer.SendLoginAlert(ctx, user.Email, user.Name, alert); err != nil {
		s.logger.Warn("login alert mail failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}

// Refresh rotates a refresh token and issues a new access token. Presenting
// a revoked token is treated as theft: the whole family is revoked and the
// reuse is recorded.
func (s *AuthService) Refresh(ctx context.Context, rawToken string, meta RequestMeta) (*TokenPair, error) {
	if rawToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	now := s.now()
	stored, err := s.tokens.GetByHash(ctx, security.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	if stored.Revoked {
		return nil, s.handleReuse(ctx, stored, meta)
	}
	if !now.Before(stored.ExpiresAt) {
		return nil, ErrExpiredRefreshToken
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if _, revokeErr := s.tokens.RevokeFamily(ctx, stored.Family); revokeErr != nil {
				s.logger.Warn("revoke family for deleted user failed", zap.Error(revokeErr))
			}
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive && !s.policy.IsReserved(user.Email) {
		if _, revokeErr := s.tokens.RevokeFamily(ctx, stored.Family); revokeErr != nil {
			s.logger.Warn("revoke family for inactive user failed", zap.Error(revokeErr))
		}
		return nil, ErrInactiveAccount
	}

	plaintext, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	successor := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    stored.UserID,
		TokenHash: security.HashToken(plaintext),
		Family:    stored.Family,
		ExpiresAt: now.Add(s.cfg.JWT.RefreshTokenTTL),
		CreatedAt: now,
	}

	if err := s.tokens.Rotate(ctx, stored.ID, successor); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost a concurrent rotation; the presented token is now revoked.
			return nil, s.handleReuse(ctx, stored, meta)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, claims, err := s.signer.Sign(*user, s.policy.EffectiveRole(*user), now)
	if err != nil {
		return nil, err
	}

	sanitized := *user
	sanitized.PasswordHash = ""

	return &TokenPair{
		AccessToken:   access,
		AccessClaims:  claims,
		RefreshToken:  plaintext,
		RefreshExpiry: successor.ExpiresAt,
		User:          sanitized,
	}, nil
}

func (s *AuthService) handleReuse(ctx context.Context, stored *domain.RefreshToken, meta RequestMeta) error {
	revoked, err := s.tokens.RevokeFamily(ctx, stored.Family)
	if err != nil {
		s.logger.Warn("revoke token family failed",
			zap.String("family", stored.Family),
			zap.Error(err),
		)
	}

	s.recorder.Record(ctx, domain.EventRefreshTokenReuse, meta, &stored.UserID, nil,
		map[string]any{"family": stored.Family, "tokens_revoked": revoked})

	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", stored.UserID),
		zap.String("family", stored.Family),
		zap.Int("tokens_revoked", revoked),
	)

	return ErrInvalidRefreshToken
}

// Logout invalidates the current access token immediately and revokes the
// refresh token family. It is idempotent: already-revoked or missing tokens
// do not fail the call.
func (s *AuthService) Logout(ctx context.Context, claims *security.AccessTokenClaims, rawRefresh string, meta RequestMeta) error {
	var userID, email *string

	if claims != nil {
		if claims.ExpiresAt != nil {
			s.revoked.Revoke(claims.ID, claims.ExpiresAt.Time)
		}
		userID = &claims.UserID
		email = &claims.Email
	}

	if rawRefresh != "" {
		stored, err := s.tokens.GetByHash(ctx, security.HashToken(rawRefresh))
		switch {
		case err == nil:
			if _, err := s.tokens.RevokeFamily(ctx, stored.Family); err != nil {
				s.logger.Warn("revoke family on logout failed", zap.Error(err))
			}
			if userID == nil {
				userID = &stored.UserID
			}
		case errors.Is(err, repository.ErrNotFound):
			// Already gone; logout stays idempotent.
		default:
			s.logger.Warn("lookup refresh token on logout failed", zap.Error(err))
		}
	}

	s.recorder.Record(ctx, domain.EventLogout, meta, userID, email, nil)
	return nil
}

// ParseAccessToken verifies a bearer token and maps signer errors onto the
// service error taxonomy.
func (s *AuthService) ParseAccessToken(token string) (*security.AccessTokenClaims, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}

	if s.revoked.IsRevoked(claims.ID) {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

// CurrentUser re-reads the account behind a verified token. Role and
// permissions are resolved fresh from storage, never trusted from the claims.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive && !s.policy.IsReserved(user.Email) {
		return nil, ErrInactiveAccount
	}

	sanitized := *user
	sanitized.PasswordHash = ""
	sanitized.Role = s.policy.EffectiveRole(*user)
	sanitized.Permissions = s.policy.EffectivePermissions(*user)
	return &sanitized, nil
}

// ChangePassword replaces the caller's own password after verifying the
// current one. Every refresh token the user holds is revoked so stolen
// sessions die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, meta RequestMeta) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := s.validator.Validate(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.tokens.RevokeByUser(ctx, userID); err != nil {
		s.logger.Warn("revoke sessions after password change failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	s.recorder.Record(ctx, domain.EventPasswordChanged, meta, &user.ID, &user.Email, nil)
	s.logger.Info("password changed", zap.String("user_id", userID))
	return nil
}

// CleanupExpiredTokens deletes refresh token rows past their lifetime,
// together with long-revoked ones.
func (s *AuthService) CleanupExpiredTokens(ctx context.Context) {
	deleted, err := s.tokens.Cleanup(ctx, s.now())
	if err != nil {
		s.logger.Warn("token cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("stale refresh tokens removed", zap.Int("count", deleted))
	}
}

func (s *AuthService) pendingUser(ctx context.Context, handle string) (*domain.User, error) {
	if handle == "" {
		return nil, ErrLoginSessionExpired
	}

	userID, err := s.pending.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLoginSessionExpired
		}
		return nil, fmt.Errorf("lookup login handle: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLoginSessionExpired
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return user, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user domain.User, family string) (*TokenPair, error) {
	now := s.now()

	access, claims, err := s.signer.Sign(user, s.policy.EffectiveRole(user), now)
	if err != nil {
		return nil, err
	}

	plaintext, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	refresh := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(plaintext),
		Family:    family,
		ExpiresAt: now.Add(s.cfg.JWT.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, refresh); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.logger.Debug("tokens issued",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
		zap.String("family", family),
	)

	sanitized := user
	sanitized.PasswordHash = ""

	return &TokenPair{
		AccessToken:   access,
		AccessClaims:  claims,
		RefreshToken:  plaintext,
		RefreshExpiry: refresh.ExpiresAt,
		User:          sanitized,
	}, nil
}
