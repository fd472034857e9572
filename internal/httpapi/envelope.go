// Package httpapi implements the wire API from spec.md §6.1, routed with
// gin-gonic/gin — grounded on chirino-memory-service's route-plugin
// pattern (internal/plugin/route/*), one MountRoutes(r *gin.Engine, ...)
// function per resource group, auth/clientID as composed middleware.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/personamemory/internal/errs"
)

// envelope is the {status, data, error, message, meta} response shape
// spec.md §6.1 specifies for every endpoint.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Meta    any    `json:"meta,omitempty"`
}

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, envelope{Status: "success", Data: data})
}

func okMeta(c *gin.Context, code int, data, meta any) {
	c.JSON(code, envelope{Status: "success", Data: data, Meta: meta})
}

// fail maps err onto the HTTP status code table spec.md §6.1 defines and
// writes the error envelope.
func fail(c *gin.Context, err error) {
	status, kind := statusFor(err)
	c.JSON(status, envelope{Status: "error", Error: kind, Message: err.Error()})
}

func statusFor(err error) (int, string) {
	switch {
	case errs.IsKind(err, errs.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errs.IsKind(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errs.IsKind(err, errs.ErrPermission):
		return http.StatusForbidden, "permission"
	case errs.IsKind(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errs.IsKind(err, errs.ErrCapacity):
		return http.StatusBadRequest, "capacity"
	case errs.IsKind(err, errs.ErrDimensionMismatch):
		return http.StatusBadRequest, "dimension_mismatch"
	case errs.IsKind(err, errs.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errs.IsKind(err, errs.ErrDependency):
		return http.StatusBadGateway, "dependency"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
