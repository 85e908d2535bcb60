package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/infra/security"
	"github.com/techsupport4/crm-auth/internal/transport/http/middleware"
	"github.com/techsupport4/crm-auth/internal/usecase"
)

// UserHandler exposes the admin user management endpoints.
type UserHandler struct {
	users *usecase.UserService
}

// NewUserHandler constructs UserHandler.
func NewUserHandler(users *usecase.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// RegisterRoutes binds the user management routes. The caller is expected to
// have attached authentication and admin-role middleware to the group.
func (h *UserHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.POST("", h.create)
	r.PUT("/:id", h.updateProfile)
	r.PUT("/:id/role", h.updateRole)
	r.PUT("/:id/permissions", h.updatePermissions)
	r.PUT("/:id/status", h.setActive)
	r.DELETE("/:id", h.remove)
}

var userMutationCases = []ErrorCase{
	{Err: usecase.ErrForbidden, Status: http.StatusForbidden, Message: "operation not allowed"},
	{Err: usecase.ErrReservedAccount, Status: http.StatusForbidden, Message: "reserved account cannot be modified"},
	{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
}

func (h *UserHandler) list(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	users, err := h.users.List(c.Request.Context(), *actor)
	if err != nil {
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "list users failed")
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h *UserHandler) create(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid user payload"))
		return
	}

	user, err := h.users.Create(c.Request.Context(), *actor, usecase.CreateUserInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Role:     domain.Role(req.Role),
	})
	if err != nil {
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
			return
		}
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "create user failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(*user)})
}

func (h *UserHandler) updateProfile(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid profile payload"))
		return
	}

	err := h.users.UpdateProfile(c.Request.Context(), *actor, c.Param("id"),
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Email))
	if err != nil {
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "update profile failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "profile updated"})
}

func (h *UserHandler) updateRole(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid role payload"))
		return
	}

	err := h.users.UpdateRole(c.Request.Context(), *actor, c.Param("id"), domain.Role(req.Role))
	if err != nil {
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "update role failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "role updated"})
}

func (h *UserHandler) updatePermissions(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req UpdatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permissions payload"))
		return
	}

	err := h.users.UpdatePermissions(c.Request.Context(), *actor, c.Param("id"), req.Permissions)
	if err != nil {
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "update permissions failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "permissions updated"})
}

func (h *UserHandler) setActive(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid status payload"))
		return
	}

	err := h.users.SetActive(c.Request.Context(), *actor, c.Param("id"), *req.IsActive)
	if err != nil {
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "update status failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "status updated"})
}

func (h *UserHandler) remove(c *gin.Context) {
	actor, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	err := h.users.Delete(c.Request.Context(), *actor, c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, userMutationCases, http.StatusInternalServerError, "delete user failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "user deleted"})
}
