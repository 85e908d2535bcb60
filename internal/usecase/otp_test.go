package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/infra/config"
)

type otpFixture struct {
	codes  *memOTPRepo
	mailer *recordingMailer
	now    time.Time
	svc    *OTPService
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()

	f := &otpFixture{
		codes:  newMemOTPRepo(),
		mailer: &recordingMailer{},
		now:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewOTPService(config.OTPSettings{
		Digits:         6,
		TTL:            10 * time.Minute,
		ResendCooldown: time.Minute,
		MaxAttempts:    5,
		AttemptWindow:  30 * time.Minute,
	}, f.codes, f.mailer, zap.NewNop()).WithClock(func() time.Time { return f.now })

	return f
}

func (f *otpFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func otpUser() domain.User {
	return domain.User{ID: "u1", Name: "Agent", Email: "agent@example.com", IsActive: true}
}

func TestIssueReplacesPriorCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	first, ok := f.mailer.lastCode()
	if !ok {
		t.Fatal("no code mailed")
	}

	f.advance(time.Second)
	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	// The first code is dead even though its TTL has not elapsed.
	if err := f.svc.Verify(ctx, "u1", first); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP for a replaced code, got %v", err)
	}

	second, _ := f.mailer.lastCode()
	if err := f.svc.Verify(ctx, "u1", second); err != nil {
		t.Fatalf("latest code should verify, got %v", err)
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code, _ := f.mailer.lastCode()

	f.advance(10 * time.Minute) // exactly at expiry counts as expired

	if err := f.svc.Verify(ctx, "u1", code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP for expired code, got %v", err)
	}
}

func TestVerifyConsumesCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code, _ := f.mailer.lastCode()

	if err := f.svc.Verify(ctx, "u1", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// A code verifies at most once.
	if err := f.svc.Verify(ctx, "u1", code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP for consumed code, got %v", err)
	}
}

func TestVerifyLockoutAfterMaxFailures(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code, _ := f.mailer.lastCode()

	for i := 0; i < 5; i++ {
		if err := f.svc.Verify(ctx, "u1", "999999"); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("failure %d: expected ErrInvalidOTP, got %v", i, err)
		}
	}

	// The correct code is refused while locked.
	if err := f.svc.Verify(ctx, "u1", code); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("expected ErrOTPLocked, got %v", err)
	}

	// The window is rolling; once the failures age out the code works again
	// if it is still alive. Re-issue to get a live one.
	f.advance(31 * time.Minute)
	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("re-Issue: %v", err)
	}
	fresh, _ := f.mailer.lastCode()
	if err := f.svc.Verify(ctx, "u1", fresh); err != nil {
		t.Fatalf("verify after window elapsed: %v", err)
	}
}

func TestVerifySuccessClearsFailures(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code, _ := f.mailer.lastCode()

	for i := 0; i < 4; i++ {
		if err := f.svc.Verify(ctx, "u1", "999999"); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("failure %d: expected ErrInvalidOTP, got %v", i, err)
		}
	}
	if err := f.svc.Verify(ctx, "u1", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	locked, err := f.svc.Locked(ctx, "u1")
	if err != nil {
		t.Fatalf("Locked: %v", err)
	}
	if locked {
		t.Fatal("successful verification must clear the failure counter")
	}
}

func TestResendCooldown(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := f.svc.Resend(ctx, otpUser()); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected ErrResendCooldown, got %v", err)
	}

	f.advance(61 * time.Second)
	if err := f.svc.Resend(ctx, otpUser()); err != nil {
		t.Fatalf("Resend after cooldown: %v", err)
	}
	if len(f.mailer.codes) != 2 {
		t.Fatalf("expected 2 mailed codes, got %d", len(f.mailer.codes))
	}
	// A resend retransmits the same code rather than minting a new one.
	if f.mailer.codes[0] != f.mailer.codes[1] {
		t.Fatalf("resend mailed %q, want the original %q", f.mailer.codes[1], f.mailer.codes[0])
	}

	// The retransmission restarts the cooldown.
	if err := f.svc.Resend(ctx, otpUser()); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected ErrResendCooldown right after a resend, got %v", err)
	}
}

func TestIssueClearsLockout(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := f.svc.Verify(ctx, "u1", "999999"); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("failure %d: expected ErrInvalidOTP, got %v", i, err)
		}
	}

	// A fresh code ends the lockout immediately; the user does not wait out
	// the window after restarting the login.
	f.advance(time.Second)
	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("re-Issue: %v", err)
	}
	fresh, _ := f.mailer.lastCode()
	if err := f.svc.Verify(ctx, "u1", fresh); err != nil {
		t.Fatalf("fresh code must verify after re-issue, got %v", err)
	}
}

func TestResendKeepsLockout(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code, _ := f.mailer.lastCode()

	for i := 0; i < 5; i++ {
		if err := f.svc.Verify(ctx, "u1", "999999"); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("failure %d: expected ErrInvalidOTP, got %v", i, err)
		}
	}

	// Resending the existing code must not hand back a fresh failure budget.
	f.advance(61 * time.Second)
	if err := f.svc.Resend(ctx, otpUser()); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if err := f.svc.Verify(ctx, "u1", code); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("expected ErrOTPLocked after a resend, got %v", err)
	}
}

func TestResendMintsFreshCodeAfterExpiry(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	first, _ := f.mailer.lastCode()

	f.advance(11 * time.Minute)
	if err := f.svc.Resend(ctx, otpUser()); err != nil {
		t.Fatalf("Resend after expiry: %v", err)
	}

	second, _ := f.mailer.lastCode()
	if second == first {
		t.Fatal("a resend with no live code must mint a fresh one")
	}
	if err := f.svc.Verify(ctx, "u1", second); err != nil {
		t.Fatalf("fresh code must verify, got %v", err)
	}
}

func TestIssueSurvivesMailFailure(t *testing.T) {
	f := newOTPFixture(t)
	f.mailer.err = errStoreDown
	ctx := context.Background()

	if err := f.svc.Issue(ctx, otpUser()); err != nil {
		t.Fatalf("Issue must not fail on delivery errors, got %v", err)
	}

	if _, ok := f.codes.latestActive("u1", f.now); !ok {
		t.Fatal("code must be stored even when delivery fails")
	}
}
