package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/techsupport4/crm-auth/internal/infra/security"
	"github.com/techsupport4/crm-auth/internal/usecase"
)

// AccessTokenCookie is the cookie carrying the signed access token.
const AccessTokenCookie = "auth_token"

// RefreshTokenCookie is the cookie carrying the opaque refresh token. It is
// scoped to the refresh path so browsers only send it there.
const RefreshTokenCookie = "refresh_token"

const claimsKey = "claims"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// extractAccessToken pulls the token from the auth cookie, falling back to
// the Authorization header. Cookie wins when both are present.
func extractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// RequireAuth validates the access token from cookie or bearer header.
// A missing token, an expired token, and an invalid token each produce a
// distinct response so clients know whether to refresh or re-login.
func RequireAuth(authService *usecase.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractAccessToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		claims, err := authService.ParseAccessToken(token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "access token expired",
					Code:    "TOKEN_EXPIRED",
					TraceID: GetTraceID(c),
				})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			}
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(claimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.UserID
		}

		c.Next()
	}
}

// GetClaims retrieves the verified token claims stored by RequireAuth.
func GetClaims(c *gin.Context) (*security.AccessTokenClaims, bool) {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*security.AccessTokenClaims)
	return claims, ok
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
