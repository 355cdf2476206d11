package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/tokengate/pkg/authz"
	"github.com/osvaldoandrade/tokengate/pkg/jwt"
)

type decodeTokensController struct{ tokens authz.TokenDecoder }

func NewDecodeTokensController(tokens authz.TokenDecoder) *decodeTokensController {
	return &decodeTokensController{tokens}
}

type decodeReq struct {
	AccessToken   string `json:"access_token" binding:"required"`
	IDToken       string `json:"id_token" binding:"required"`
	UserinfoToken string `json:"userinfo_token,omitempty"`
}

func (h *decodeTokensController) Handle(c *gin.Context) {
	var req decodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	out, err := h.tokens.DecodeTokenSet(c.Request.Context(), jwt.TokenSet{
		Access:   req.AccessToken,
		ID:       req.IDToken,
		Userinfo: req.UserinfoToken,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
