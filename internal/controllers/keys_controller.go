package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

type KeyStore interface {
	Keys() []keys.Material
	Refresh(ctx context.Context) error
	FetchedAt() time.Time
}

// keyView never includes key bytes.
type keyView struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"type"`
}

type keySetResponse struct {
	Keys      []keyView  `json:"keys"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

func newKeySetResponse(store KeyStore) keySetResponse {
	ms := store.Keys()
	out := keySetResponse{Keys: make([]keyView, 0, len(ms))}
	for _, m := range ms {
		out.Keys = append(out.Keys, keyView{Algorithm: m.Algorithm, KeyID: m.KeyID, Type: m.Type.String()})
	}
	if at := store.FetchedAt(); !at.IsZero() {
		at = at.UTC()
		out.FetchedAt = &at
	}
	return out
}

type listKeysController struct{ store KeyStore }

func NewListKeysController(store KeyStore) *listKeysController {
	return &listKeysController{store}
}

func (h *listKeysController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, newKeySetResponse(h.store))
}

type refreshKeysController struct{ store KeyStore }

func NewRefreshKeysController(store KeyStore) *refreshKeysController {
	return &refreshKeysController{store}
}

func (h *refreshKeysController) Handle(c *gin.Context) {
	if err := h.store.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "key set refresh failed"})
		return
	}
	c.JSON(http.StatusOK, newKeySetResponse(h.store))
}
