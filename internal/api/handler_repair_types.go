package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListRepairTypes returns the repair-type catalog with base prices.
func (h *Handler) ListRepairTypes(c *gin.Context) {
	types, err := h.store.ListRepairTypes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"repair_types": types})
}
