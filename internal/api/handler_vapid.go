package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"repair-pricing-backend/internal/realtime"
)

// GetVAPIDPublicKey returns the VAPID public key to the client.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vapid keys are not configured"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}

// Health reports the push channel state and where the current factors came from.
// The service keeps answering with baseline factors while disconnected, so it is
// always 200.
func (h *Handler) Health(c *gin.Context) {
	state := realtime.StateDisconnected
	if h.realtime != nil {
		state = h.realtime.State()
	}
	body := gin.H{"status": "ok", "realtime": state}
	if h.factors != nil {
		snap := h.factors.Snapshot(c.Request.Context())
		body["factors_origin"] = snap.Origin
		body["factors_updated_at"] = snap.UpdatedAt
	}
	c.JSON(http.StatusOK, body)
}
