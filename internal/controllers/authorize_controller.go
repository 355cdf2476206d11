package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/tokengate/pkg/authz"
)

type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) (*authz.Decision, error)
}

type authorizeController struct{ authz Authorizer }

// NewAuthorizeController accepts a nil authorizer when no policy is
// configured; requests are then answered with 503.
func NewAuthorizeController(a Authorizer) *authorizeController {
	return &authorizeController{a}
}

func (h *authorizeController) Handle(c *gin.Context) {
	if h.authz == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no policy configured"})
		return
	}
	var req authz.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	decision, err := h.authz.Authorize(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
