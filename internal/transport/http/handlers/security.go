package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/techsupport4/crm-auth/internal/usecase"
)

// SecurityLogHandler exposes the audit log to administrators.
type SecurityLogHandler struct {
	recorder *usecase.SecurityEventRecorder
}

// NewSecurityLogHandler constructs SecurityLogHandler.
func NewSecurityLogHandler(recorder *usecase.SecurityEventRecorder) *SecurityLogHandler {
	return &SecurityLogHandler{recorder: recorder}
}

// RegisterRoutes binds the audit log routes. Authentication and role checks
// are attached by the caller.
func (h *SecurityLogHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
}

func (h *SecurityLogHandler) list(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be between 1 and 1000"))
			return
		}
		limit = parsed
	}

	events, err := h.recorder.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "list security logs failed"))
		return
	}

	out := make([]SecurityEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, SecurityEventResponse{
			ID:        e.ID,
			Type:      string(e.Type),
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			UserID:    e.UserID,
			Email:     e.Email,
			Country:   e.Geo.Country,
			Region:    e.Geo.Region,
			City:      e.Geo.City,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"logs": out})
}
