package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest starts the password step of the two-step login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse returns the opaque handle the client echoes back with the code.
type LoginResponse struct {
	PendingToken string `json:"pending_token"`
	Message      string `json:"message"`
}

// VerifyOTPRequest completes the login.
type VerifyOTPRequest struct {
	PendingToken string `json:"pending_token" binding:"required"`
	Code         string `json:"code" binding:"required"`
}

// ResendOTPRequest asks for the pending code to be re-sent.
type ResendOTPRequest struct {
	PendingToken string `json:"pending_token" binding:"required"`
}

// ChangePasswordRequest replaces the caller's own password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// SessionResponse returns the authenticated user after login or refresh.
type SessionResponse struct {
	User UserResponse `json:"user"`
}

// UserResponse is the sanitized account representation.
type UserResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Email       string             `json:"email"`
	Role        string             `json:"role"`
	Permissions domain.Permissions `json:"permissions"`
	IsActive    bool               `json:"is_active"`
	CreatedBy   *string            `json:"created_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

func toUserResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        string(u.Role),
		Permissions: u.Permissions,
		IsActive:    u.IsActive,
		CreatedBy:   u.CreatedBy,
		CreatedAt:   u.CreatedAt,
	}
}

// CreateUserRequest registers a new account via the admin API.
type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

// UpdateProfileRequest changes name and email of an account.
type UpdateProfileRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// UpdateRoleRequest changes the stored role of an account.
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdatePermissionsRequest overwrites the capability set of an account.
type UpdatePermissionsRequest struct {
	Permissions domain.Permissions `json:"permissions"`
}

// SetActiveRequest flips the active flag of an account.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SecurityEventResponse is one audit log entry.
type SecurityEventResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	UserID    *string        `json:"user_id,omitempty"`
	Email     *string        `json:"email,omitempty"`
	Country   string         `json:"country,omitempty"`
	Region    string         `json:"region,omitempty"`
	City      string         `json:"city,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HealthResponse describes the liveness probe payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
