package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/techsupport4/crm-auth/internal/infra/config"
	"github.com/techsupport4/crm-auth/internal/infra/security"
	"github.com/techsupport4/crm-auth/internal/transport/http/middleware"
	"github.com/techsupport4/crm-auth/internal/usecase"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	auth    *usecase.AuthService
	cookies config.CookieSettings
	jwt     config.JWTSettings
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, cookies config.CookieSettings, jwt config.JWTSettings) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies, jwt: jwt}
}

// RegisterRoutes binds authentication routes, applying optional middleware
// ahead of the credential endpoints.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	login := append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.login)
	r.POST("/login", login...)
	r.POST("/verify-otp", h.verifyOTP)
	r.POST("/resend-otp", h.resendOTP)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", h.logout)
	r.GET("/me", middleware.RequireAuth(h.auth), h.me)
	r.POST("/change-password", middleware.RequireAuth(h.auth), h.changePassword)
}

func requestMeta(c *gin.Context) usecase.RequestMeta {
	return usecase.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// login verifies the password and triggers code delivery.
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	handle, err := h.auth.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password, requestMeta(c))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is deactivated"},
			{Err: usecase.ErrTooManyAttempts, Status: http.StatusTooManyRequests, Message: "too many login attempts, try again later"},
		}, http.StatusInternalServerError, "login failed")
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		PendingToken: handle,
		Message:      "verification code sent",
	})
}

// verifyOTP completes the login and sets the auth cookies.
func (h *AuthHandler) verifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	pair, err := h.auth.VerifyCode(c.Request.Context(), req.PendingToken, strings.TrimSpace(req.Code), requestMeta(c))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrLoginSessionExpired, Status: http.StatusUnauthorized, Message: "login session expired, start over"},
			{Err: usecase.ErrInvalidOTP, Status: http.StatusUnauthorized, Message: "invalid verification code"},
			{Err: usecase.ErrOTPLocked, Status: http.StatusTooManyRequests, Message: "too many failed codes, try again later"},
		}, http.StatusInternalServerError, "verification failed")
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, SessionResponse{User: toUserResponse(pair.User)})
}

// resendOTP re-sends the pending code, subject to the cooldown.
func (h *AuthHandler) resendOTP(c *gin.Context) {
	var req ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid resend payload"))
		return
	}

	if err := h.auth.ResendCode(c.Request.Context(), req.PendingToken, requestMeta(c)); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrLoginSessionExpired, Status: http.StatusUnauthorized, Message: "login session expired, start over"},
			{Err: usecase.ErrResendCooldown, Status: http.StatusTooManyRequests, Message: "code was sent recently, wait before retrying"},
		}, http.StatusInternalServerError, "resend failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "verification code sent"})
}

// refresh rotates the refresh token and issues a fresh access token.
func (h *AuthHandler) refresh(c *gin.Context) {
	raw := h.refreshTokenFromRequest(c)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "refresh token required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), raw, requestMeta(c))
	if err != nil {
		h.clearAuthCookies(c)
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is deactivated"},
		}, http.StatusInternalServerError, "refresh failed")
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, SessionResponse{User: toUserResponse(pair.User)})
}

// logout revokes the current tokens and clears the cookies. It succeeds even
// when the tokens are already gone.
func (h *AuthHandler) logout(c *gin.Context) {
	var claims *security.AccessTokenClaims
	if token := h.accessTokenFromRequest(c); token != "" {
		if parsed, err := h.auth.ParseAccessToken(token); err == nil {
			claims = parsed
		}
	}

	if err := h.auth.Logout(c.Request.Context(), claims, h.refreshTokenFromRequest(c), requestMeta(c)); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "logout failed"))
		return
	}

	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// me returns the fresh account state behind the verified token.
func (h *AuthHandler) me(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	user, err := h.auth.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusUnauthorized, Message: "account no longer exists"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is deactivated"},
		}, http.StatusInternalServerError, "lookup failed")
		return
	}

	c.JSON(http.StatusOK, SessionResponse{User: toUserResponse(*user)})
}

// changePassword replaces the caller's password and kills their other sessions.
func (h *AuthHandler) changePassword(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password payload"))
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword, requestMeta(c))
	if err != nil {
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "current password is incorrect"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusUnauthorized, Message: "account no longer exists"},
		}, http.StatusInternalServerError, "change password failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password changed"})
}

func (h *AuthHandler) accessTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(middleware.AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (h *AuthHandler) refreshTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(middleware.RefreshTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err == nil {
		return strings.TrimSpace(body.RefreshToken)
	}

	return ""
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, pair *usecase.TokenPair) {
	c.SetSameSite(parseSameSite(h.cookies.SameSite))
	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken,
		int(h.jwt.AccessTokenTTL.Seconds()), "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, pair.RefreshToken,
		int(h.jwt.RefreshTokenTTL.Seconds()), h.refreshPath(), h.cookies.Domain, h.cookies.Secure, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(parseSameSite(h.cookies.SameSite))
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, "", -1, h.refreshPath(), h.cookies.Domain, h.cookies.Secure, true)
}

func (h *AuthHandler) refreshPath() string {
	if h.cookies.RefreshPath == "" {
		return "/"
	}
	return h.cookies.RefreshPath
}

func parseSameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
