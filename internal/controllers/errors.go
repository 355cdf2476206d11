package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/tokengate/internal/middleware"
	"github.com/osvaldoandrade/tokengate/pkg/authz"
	"github.com/osvaldoandrade/tokengate/pkg/jwt"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

// writeError maps pipeline errors to a status and a stable JSON body.
// Token failures carry the failing token and reason label.
func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		middleware.Logger(c).Error("request failed", "err", err)
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	switch {
	case errors.Is(err, authz.ErrInvalidRequest):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, authz.ErrEvaluation):
		return http.StatusInternalServerError, gin.H{"error": "policy evaluation failed"}
	}

	kind, isToken := jwt.FailedToken(err)
	if !isToken {
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
	body := gin.H{
		"error":  "token rejected",
		"token":  string(kind),
		"reason": jwt.Reason(err),
	}
	switch {
	case errors.Is(err, jwt.ErrMalformedToken):
		return http.StatusBadRequest, body
	case errors.Is(err, jwt.ErrKeyResolution) && errors.Is(err, keys.ErrFetchFailed):
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusUnauthorized, body
	}
}
