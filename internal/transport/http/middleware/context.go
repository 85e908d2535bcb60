package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader carries the trace ID between the edge proxy and this service.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key holding the trace ID.
	TraceIDKey = "trace_id"
	// UserIDKey is the gin context key holding the authenticated user ID.
	UserIDKey = "user_id"

	requestContextKey = "request_context"
)

// RequestContext captures the per-request client metadata that flows into
// security events and audit logs.
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
}

// EnrichContext assigns every request a trace ID and snapshots the client
// metadata before any handler runs. Inbound trace headers are honored only
// when they parse as UUIDs so clients cannot inject arbitrary log content.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID returns the request's trace ID, or "" outside EnrichContext.
func GetTraceID(c *gin.Context) string {
	id, _ := c.Get(TraceIDKey)
	if s, ok := id.(string); ok {
		return s
	}
	return ""
}

// GetRequestContext returns the client metadata snapshot. The zero value is
// returned when the middleware did not run, so callers never nil-check.
func GetRequestContext(c *gin.Context) *RequestContext {
	v, _ := c.Get(requestContextKey)
	if rc, ok := v.(*RequestContext); ok {
		return rc
	}
	return &RequestContext{}
}
