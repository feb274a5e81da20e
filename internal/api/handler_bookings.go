package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"repair-pricing-backend/internal/booking"
	"repair-pricing-backend/internal/httpx"
)

// upstreamError maps a bookings service failure onto a response.
func upstreamError(c *gin.Context, err error) {
	var status *httpx.StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

// GetBookingProgress returns the authoritative progress from the bookings service.
func (h *Handler) GetBookingProgress(c *gin.Context) {
	progress, err := h.bookings.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("Error fetching progress for booking %s: %v", c.Param("id"), err)
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// GetBookingHistory returns the status updates this service has observed on
// the push channel, oldest first. With ?source=upstream it returns the bookings
// service's own history instead.
func (h *Handler) GetBookingHistory(c *gin.Context) {
	switch c.DefaultQuery("source", "observed") {
	case "observed":
	case "upstream":
		history, err := h.bookings.StatusHistory(c.Request.Context(), c.Param("id"))
		if err != nil {
			upstreamError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"booking_id": c.Param("id"), "source": "upstream", "history": history})
		return
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be observed or upstream"})
		return
	}

	records, err := h.store.StatusHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking_id": c.Param("id"), "source": "observed", "history": records})
}

// GetBookingMessages lists the shop's messages for a booking.
func (h *Handler) GetBookingMessages(c *gin.Context) {
	messages, err := h.bookings.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// MarkMessageRead marks a customer message as read.
func (h *Handler) MarkMessageRead(c *gin.Context) {
	if err := h.bookings.MarkMessageRead(c.Request.Context(), c.Param("id")); err != nil {
		upstreamError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PerformMessageAction triggers one of the actions offered with a message.
func (h *Handler) PerformMessageAction(c *gin.Context) {
	if err := h.bookings.PerformMessageAction(c.Request.Context(), c.Param("id"), c.Param("action_id")); err != nil {
		upstreamError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamBookingProgress tracks a booking for as long as the client stays
// connected and sends every progress update as a server-sent event.
func (h *Handler) StreamBookingProgress(c *gin.Context) {
	bookingID := c.Param("id")
	ctx := c.Request.Context()

	updates := make(chan booking.Progress, 8)
	untrack := h.tracker.Track(bookingID, func(p booking.Progress) {
		select {
		case updates <- p:
		default:
			log.WithField("booking", bookingID).Warn("Progress stream is not keeping up; dropping update")
		}
	})
	defer untrack()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			// Best effort: the stream still works from push updates alone.
			if progress, err := h.bookings.Progress(ctx, bookingID); err == nil {
				c.SSEvent("progress", progress)
			} else {
				c.SSEvent("ready", gin.H{"booking_id": bookingID})
			}
			return true
		}
		select {
		case p := <-updates:
			c.SSEvent("progress", p)
			return true
		case <-keepAlive.C:
			c.SSEvent("keepalive", time.Now().UTC())
			return true
		case <-ctx.Done():
			return false
		}
	})
}
