package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/infra/config"
	"github.com/techsupport4/crm-auth/internal/infra/security"
)

const (
	testPassword      = "correct-horse-7-battery"
	testReservedEmail = "support@techsupport4.com"
)

type authFixture struct {
	users   *memUserRepo
	tokens  *memTokenRepo
	otps    *memOTPRepo
	pending *memPendingStore
	rate    *memRateStore
	events  *memEventRepo
	mailer  *recordingMailer
	revoked *security.RevokedTokenSet
	now     time.Time
	auth    *AuthService
	otpSvc  *OTPService
}

func testHasher(t *testing.T) *security.PasswordHasher {
	t.Helper()
	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	return hasher
}

func newAuthFixture(t *testing.T, guardLimit int, users ...domain.User) *authFixture {
	t.Helper()

	hasher := testHasher(t)
	for i := range users {
		hash, err := hasher.Hash(testPassword)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		users[i].PasswordHash = hash
	}

	cfg := &config.AppConfig{
		JWT: config.JWTSettings{
			Secret:          "unit-test-secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Admin: config.AdminSettings{SuperAdminEmail: testReservedEmail},
	}

	signer, err := security.NewTokenSigner(cfg.JWT.Secret, "crm-auth-test", cfg.JWT.AccessTokenTTL)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}

	log := zap.NewNop()

	f := &authFixture{
		users:   newMemUserRepo(users...),
		tokens:  newMemTokenRepo(),
		otps:    newMemOTPRepo(),
		pending: newMemPendingStore(),
		rate:    newMemRateStore(),
		events:  &memEventRepo{},
		mailer:  &recordingMailer{},
		revoked: security.NewRevokedTokenSet(),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	signer.WithClock(clock)

	recorder := NewSecurityEventRecorder(f.events, nil, nil, log)
	guard := NewLoginGuard(f.rate, 15*time.Minute, guardLimit, log)
	f.otpSvc = NewOTPService(config.OTPSettings{}, f.otps, f.mailer, log).WithClock(clock)
	f.revoked.WithClock(clock)

	f.auth = NewAuthService(cfg, f.users, f.tokens, f.pending,
		f.otpSvc, guard, hasher, signer, f.revoked, recorder, log).
		WithClock(clock).
		WithLoginAlerts(f.mailer, nil)

	return f
}

// advance moves the shared fixture clock forward.
func (f *authFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func activeUser(id, email string) domain.User {
	return domain.User{
		ID:          id,
		Name:        "Agent " + id,
		Email:       email,
		Role:        domain.RoleUser,
		Permissions: domain.DefaultPermissions(),
		IsActive:    true,
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func meta() RequestMeta {
	return RequestMeta{IP: "198.51.100.7", UserAgent: "unit-test"}
}

func TestLoginIssuesCodeAndPendingHandle(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()

	handle, err := f.auth.Login(ctx, "agent@example.com", testPassword, meta())
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if handle == "" {
		t.Fatal("expected a non-empty pending handle")
	}

	userID, err := f.pending.Get(ctx, handle)
	if err != nil || userID != "u1" {
		t.Fatalf("pending handle resolves to %q (err %v), want u1", userID, err)
	}

	code, ok := f.mailer.lastCode()
	if !ok {
		t.Fatal("expected a code to be mailed")
	}
	if len(code) != 6 {
		t.Fatalf("mailed code %q has length %d, want 6", code, len(code))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("mailed code %q contains non-digit %q", code, r)
		}
	}
}

func TestLoginUnknownAccount(t *testing.T) {
	f := newAuthFixture(t, 15)

	_, err := f.auth.Login(context.Background(), "ghost@example.com", testPassword, meta())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := f.events.countByType(domain.EventLoginFailed); got != 1 {
		t.Fatalf("expected 1 login_failed event, got %d", got)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))

	_, err := f.auth.Login(context.Background(), "agent@example.com", "not-the-password-9", meta())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := f.events.countByType(domain.EventLoginFailed); got != 1 {
		t.Fatalf("expected 1 login_failed event, got %d", got)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	user := activeUser("u1", "agent@example.com")
	user.IsActive = false
	f := newAuthFixture(t, 15, user)

	_, err := f.auth.Login(context.Background(), "agent@example.com", testPassword, meta())
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
}

func TestLoginGuardCeiling(t *testing.T) {
	f := newAuthFixture(t, 2, activeUser("u1", "agent@example.com"))
	ctx := context.Background()

	// Two failed attempts fill the window; the third is refused before the
	// password is even checked.
	for i := 0; i < 2; i++ {
		if _, err := f.auth.Login(ctx, "agent@example.com", "wrong-password-1", meta()); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := f.auth.Login(ctx, "agent@example.com", testPassword, meta())
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestLoginGuardFailsOpen(t *testing.T) {
	f := newAuthFixture(t, 1, activeUser("u1", "agent@example.com"))
	f.rate.err = errStoreDown

	if _, err := f.auth.Login(context.Background(), "agent@example.com", testPassword, meta()); err != nil {
		t.Fatalf("expected login to fail open when the guard store is down, got %v", err)
	}
}

func completeLogin(t *testing.T, f *authFixture) *TokenPair {
	t.Helper()
	ctx := context.Background()

	handle, err := f.auth.Login(ctx, "agent@example.com", testPassword, meta())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	code, ok := f.mailer.lastCode()
	if !ok {
		t.Fatal("no code mailed")
	}

	pair, err := f.auth.VerifyCode(ctx, handle, code, meta())
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	return pair
}

func TestVerifyCodeIssuesTokens(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	pair := completeLogin(t, f)

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if pair.User.PasswordHash != "" {
		t.Fatal("issued user must not carry the password hash")
	}

	claims, err := f.auth.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("claims user id %q, want u1", claims.UserID)
	}

	stored, err := f.tokens.GetByHash(context.Background(), security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("refresh token not stored by hash: %v", err)
	}
	if stored.Revoked {
		t.Fatal("fresh refresh token must not be revoked")
	}

	if got := f.events.countByType(domain.EventLoginSuccess); got != 1 {
		t.Fatalf("expected 1 login_success event, got %d", got)
	}
}

func TestVerifyCodeWrongCode(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()

	handle, err := f.auth.Login(ctx, "agent@example.com", testPassword, meta())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err = f.auth.VerifyCode(ctx, handle, "000000", meta())
	if !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if got := f.events.countByType(domain.EventOTPFailed); got != 1 {
		t.Fatalf("expected 1 otp_failed event, got %d", got)
	}
}

func TestVerifyCodeUnknownHandle(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))

	_, err := f.auth.VerifyCode(context.Background(), "no-such-handle", "123456", meta())
	if !errors.Is(err, ErrLoginSessionExpired) {
		t.Fatalf("expected ErrLoginSessionExpired, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()
	pair := completeLogin(t, f)

	next, err := f.auth.Refresh(ctx, pair.RefreshToken, meta())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a different refresh token")
	}

	old, err := f.tokens.GetByHash(ctx, security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("presented token row missing: %v", err)
	}
	if !old.Revoked {
		t.Fatal("presented token must be revoked after rotation")
	}

	fresh, err := f.tokens.GetByHash(ctx, security.HashToken(next.RefreshToken))
	if err != nil {
		t.Fatalf("successor token row missing: %v", err)
	}
	if fresh.Family != old.Family {
		t.Fatalf("successor family %q differs from %q", fresh.Family, old.Family)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()
	pair := completeLogin(t, f)

	next, err := f.auth.Refresh(ctx, pair.RefreshToken, meta())
	if err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	// Presenting the consumed token again is treated as theft.
	_, err = f.auth.Refresh(ctx, pair.RefreshToken, meta())
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken on reuse, got %v", err)
	}

	stored, err := f.tokens.GetByHash(ctx, security.HashToken(next.RefreshToken))
	if err != nil {
		t.Fatalf("successor token row missing: %v", err)
	}
	if !stored.Revoked {
		t.Fatal("reuse must revoke the whole family, successor included")
	}
	if got := f.tokens.activeCount(stored.Family); got != 0 {
		t.Fatalf("family still has %d active tokens after reuse", got)
	}
	if got := f.events.countByType(domain.EventRefreshTokenReuse); got != 1 {
		t.Fatalf("expected 1 refresh_token_reuse event, got %d", got)
	}

	// The revoked successor is dead too.
	if _, err := f.auth.Refresh(ctx, next.RefreshToken, meta()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for revoked successor, got %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()
	pair := completeLogin(t, f)

	f.advance(25 * time.Hour)

	_, err := f.auth.Refresh(ctx, pair.RefreshToken, meta())
	if !errors.Is(err, ErrExpiredRefreshToken) {
		t.Fatalf("expected ErrExpiredRefreshToken, got %v", err)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))

	_, err := f.auth.Refresh(context.Background(), "never-issued", meta())
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefreshInactiveUserRevokesFamily(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()
	pair := completeLogin(t, f)

	if err := f.users.SetActive(ctx, "u1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	_, err := f.auth.Refresh(ctx, pair.RefreshToken, meta())
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}

	stored, err := f.tokens.GetByHash(ctx, security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("token row missing: %v", err)
	}
	if got := f.tokens.activeCount(stored.Family); got != 0 {
		t.Fatalf("family still has %d active tokens for a deactivated user", got)
	}
}

func TestLogoutRevokesAccessAndFamily(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()
	pair := completeLogin(t, f)

	if err := f.auth.Logout(ctx, pair.AccessClaims, pair.RefreshToken, meta()); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	// The access token dies immediately, well before its expiry.
	if _, err := f.auth.ParseAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken after logout, got %v", err)
	}

	stored, err := f.tokens.GetByHash(ctx, security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("token row missing: %v", err)
	}
	if !stored.Revoked {
		t.Fatal("refresh token must be revoked by logout")
	}

	// Logout is idempotent.
	if err := f.auth.Logout(ctx, pair.AccessClaims, pair.RefreshToken, meta()); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := f.auth.Logout(ctx, nil, "", meta()); err != nil {
		t.Fatalf("empty Logout: %v", err)
	}
}

func TestCurrentUserAppliesReservedOverride(t *testing.T) {
	reserved := activeUser("boss", testReservedEmail)
	reserved.Role = domain.RoleUser // stored role is ignored for the reserved email
	f := newAuthFixture(t, 15, reserved)

	user, err := f.auth.CurrentUser(context.Background(), "boss")
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if user.Role != domain.RoleSuperAdmin {
		t.Fatalf("reserved account resolves role %q, want super_admin", user.Role)
	}
	if !user.Permissions.Delete || !user.Permissions.Write {
		t.Fatalf("reserved account permissions %+v, want full set", user.Permissions)
	}
}

func TestCurrentUserDeletedAccount(t *testing.T) {
	f := newAuthFixture(t, 15)

	_, err := f.auth.CurrentUser(context.Background(), "gone")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()

	stale := domain.RefreshToken{
		ID:        "stale",
		UserID:    "u1",
		TokenHash: security.HashToken("stale-token"),
		Family:    "old-family",
		ExpiresAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	longRevoked := domain.RefreshToken{
		ID:        "long-revoked",
		UserID:    "u1",
		TokenHash: security.HashToken("long-revoked-token"),
		Family:    "old-family",
		Revoked:   true,
		ExpiresAt: f.now.Add(72 * time.Hour),
		CreatedAt: f.now.Add(-48 * time.Hour),
	}
	freshRevoked := domain.RefreshToken{
		ID:        "fresh-revoked",
		UserID:    "u1",
		TokenHash: security.HashToken("fresh-revoked-token"),
		Family:    "live-family",
		Revoked:   true,
		ExpiresAt: f.now.Add(72 * time.Hour),
		CreatedAt: f.now.Add(-time.Hour),
	}
	for _, tok := range []domain.RefreshToken{stale, longRevoked, freshRevoked} {
		if err := f.tokens.Create(ctx, tok); err != nil {
			t.Fatalf("Create %s: %v", tok.ID, err)
		}
	}

	f.auth.CleanupExpiredTokens(ctx)

	if _, ok := f.tokens.get("stale"); ok {
		t.Fatal("expired token row must be deleted by cleanup")
	}
	if _, ok := f.tokens.get("long-revoked"); ok {
		t.Fatal("long-revoked token row must be deleted by cleanup")
	}
	// A recently revoked row survives so a replay still reads as reuse.
	if _, ok := f.tokens.get("fresh-revoked"); !ok {
		t.Fatal("freshly revoked token row must outlive cleanup")
	}
}

func TestLoginGuardIgnoresSuccessfulAttempts(t *testing.T) {
	f := newAuthFixture(t, 2, activeUser("u1", "agent@example.com"))
	ctx := context.Background()

	// Correct-password attempts consume no budget, so a user can pass the
	// password step more often than the failure ceiling.
	for i := 0; i < 3; i++ {
		if _, err := f.auth.Login(ctx, "agent@example.com", testPassword, meta()); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
}

func TestVerifyCodeSendsLoginAlert(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))

	completeLogin(t, f)

	if got := f.mailer.alertCount(); got != 1 {
		t.Fatalf("alert count = %d, want 1", got)
	}
	alert := f.mailer.alerts[0]
	if alert.IP != meta().IP {
		t.Fatalf("alert IP = %q, want %q", alert.IP, meta().IP)
	}
	if alert.Device != meta().UserAgent {
		t.Fatalf("alert device = %q, want %q", alert.Device, meta().UserAgent)
	}
	if alert.Location != "Unknown" {
		t.Fatalf("alert location = %q, want Unknown without a resolver", alert.Location)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))
	ctx := context.Background()

	pair := completeLogin(t, f)
	stored, err := f.tokens.GetByHash(ctx, security.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("refresh token not stored: %v", err)
	}
	family := stored.Family

	if err := f.auth.ChangePassword(ctx, "u1", testPassword, strongPassword, meta()); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if count := f.tokens.activeCount(family); count != 0 {
		t.Fatalf("active tokens after password change = %d, want 0", count)
	}
	if got := f.events.countByType(domain.EventPasswordChanged); got != 1 {
		t.Fatalf("password_changed events = %d, want 1", got)
	}

	// The old password stops working, the new one signs in.
	if _, err := f.auth.Login(ctx, "agent@example.com", testPassword, meta()); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password login error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.auth.Login(ctx, "agent@example.com", strongPassword, meta()); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))

	err := f.auth.ChangePassword(context.Background(), "u1", "not-the-password", strongPassword, meta())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestChangePasswordRejectsWeakReplacement(t *testing.T) {
	f := newAuthFixture(t, 15, activeUser("u1", "agent@example.com"))

	err := f.auth.ChangePassword(context.Background(), "u1", testPassword, "abc123", meta())
	var policyErr *security.PasswordValidationError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected a password policy violation, got %v", err)
	}
}

func TestChangePasswordUnknownUser(t *testing.T) {
	f := newAuthFixture(t, 15)

	err := f.auth.ChangePassword(context.Background(), "ghost", testPassword, strongPassword, meta())
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
