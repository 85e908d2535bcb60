package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

var (
	// ErrTokenExpired marks a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("security: token expired")
	// ErrTokenInvalid marks a token that fails signature or claim checks.
	ErrTokenInvalid = errors.New("security: token invalid")
)

// AccessTokenClaims is the payload carried by signed access tokens. The role
// claim is informational for clients; authorization re-reads it from storage.
type AccessTokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HMAC-signed access tokens.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner constructs a signer for the shared secret.
func NewTokenSigner(secret string, issuer string, ttl time.Duration) (*TokenSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("signer secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenSigner{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the clock used for expiry validation, for
// deterministic testing.
func (s *TokenSigner) WithClock(clock func() time.Time) *TokenSigner {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TTL returns the configured access token lifetime.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Sign issues an access token for the user with a fresh jti.
func (s *TokenSigner) Sign(user domain.User, role domain.Role, now time.Time) (string, *AccessTokenClaims, error) {
	claims := &AccessTokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}

	return signed, claims, nil
}

// Parse verifies the token signature and expiry, returning the claims.
// Expiry is reported as ErrTokenExpired so callers can distinguish it from
// tampering.
func (s *TokenSigner) Parse(token string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
