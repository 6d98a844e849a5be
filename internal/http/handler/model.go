package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/model"
)

type ModelHandler struct {
	enabled []model.Provider
}

// NewModelHandler lists only catalog entries whose provider is configured.
func NewModelHandler(enabled []model.Provider) *ModelHandler {
	return &ModelHandler{enabled: enabled}
}

func (h *ModelHandler) List(c *gin.Context) {
	models := make([]model.ModelSpec, 0)
	for _, spec := range model.Catalog() {
		if slices.Contains(h.enabled, spec.Provider) {
			models = append(models, spec)
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}
