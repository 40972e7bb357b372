// Package httpapi exposes the sales service over HTTP (gin).
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-sales/internal/auth"
	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	TraceID string `json:"trace_id,omitempty"`
}

// writeError maps err to a status once, at the edge.
func writeError(c *gin.Context, err error) {
	status, code, message := classify(err)
	respond(c, status, code, message)
}

func respond(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   code,
		Message: message,
		Status:  status,
		TraceID: traceID(c),
	})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, domain.ErrStateTransition):
		return http.StatusBadRequest, "invalid_transition", err.Error()
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAuthorization):
		// non-participants get the same answer as a missing sale
		return http.StatusNotFound, "not_found", "sale not found"
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthenticated", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func traceID(c *gin.Context) string {
	sc := trace.SpanContextFromContext(c.Request.Context())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
