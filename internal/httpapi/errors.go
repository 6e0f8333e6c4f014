package httpapi

import (
	"errors"
	"net/http"

	"voip-callkit/internal/callkit"
	"voip-callkit/internal/calls"
	"voip-callkit/pkg/logger"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrPresentation):
		return http.StatusBadGateway
	case errors.Is(err, callkit.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the mapped status. Internal failures are logged and
// their text is not returned to the caller.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
