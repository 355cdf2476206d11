package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthController struct {
	validating func() bool
	store      KeyStore
}

func NewHealthController(validating func() bool, store KeyStore) *healthController {
	return &healthController{validating: validating, store: store}
}

func (h *healthController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"validating": h.validating(),
		"keys":       len(h.store.Keys()),
	})
}
