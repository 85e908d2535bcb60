package usecase

import "errors"

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	// Unknown account and wrong password collapse into this one error.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount indicates the account is deactivated.
	ErrInactiveAccount = errors.New("account is not active")
	// ErrTooManyAttempts indicates the caller exceeded the login guard window.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrOTPLocked indicates the account hit the code failure ceiling.
	ErrOTPLocked = errors.New("verification temporarily locked")
	// ErrInvalidOTP indicates the submitted code did not verify. Wrong code,
	// expired code, and no pending code are indistinguishable to the caller.
	ErrInvalidOTP = errors.New("invalid verification code")
	// ErrResendCooldown indicates a resend was requested before the cooldown elapsed.
	ErrResendCooldown = errors.New("code recently sent")
	// ErrLoginSessionExpired indicates the pending login handle is unknown or expired.
	ErrLoginSessionExpired = errors.New("login session expired")
	// ErrInvalidRefreshToken indicates the refresh token does not exist or was revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrInvalidAccessToken indicates the access token is malformed or tampered.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
	// ErrForbidden indicates the caller lacks the role or permission for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUserNotFound indicates the target user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrReservedAccount indicates the operation would alter the reserved super-admin account.
	ErrReservedAccount = errors.New("reserved account cannot be modified")
)
