package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/usecase"
)

const currentUserKey = "current_user"

// RequireRole re-reads the caller's account and enforces a minimum role.
// Role and permissions come from storage on every request; the values baked
// into the token are never trusted for authorization.
func RequireRole(authService *usecase.AuthService, floor domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := loadCurrentUser(c, authService)
		if !ok {
			return
		}

		if !user.Role.AtLeast(floor) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient role"))
			return
		}

		c.Next()
	}
}

// RequirePermission enforces a named capability on the caller's fresh
// account state. Admin and super-admin pass implicitly.
func RequirePermission(authService *usecase.AuthService, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := loadCurrentUser(c, authService)
		if !ok {
			return
		}

		if user.Role.AtLeast(domain.RoleAdmin) || user.Permissions.Has(name) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden,
			newErrorResponse(c, "insufficient permissions"))
	}
}

func loadCurrentUser(c *gin.Context, authService *usecase.AuthService) (*domain.User, bool) {
	if cached, exists := c.Get(currentUserKey); exists {
		if user, ok := cached.(*domain.User); ok {
			return user, true
		}
	}

	userID, ok := GetAuthenticatedUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "authentication required"))
		return nil, false
	}

	user, err := authService.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrUserNotFound), errors.Is(err, usecase.ErrInactiveAccount):
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "account no longer valid"))
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "authorization failed"))
		}
		return nil, false
	}

	c.Set(currentUserKey, user)
	return user, true
}

// GetCurrentUser returns the fresh account loaded by an authorization
// middleware earlier in the chain.
func GetCurrentUser(c *gin.Context) (*domain.User, bool) {
	value, exists := c.Get(currentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok
}
