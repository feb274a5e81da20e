package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"repair-pricing-backend/config"
	"repair-pricing-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, handler *Handler) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, cfg.RequestIPHeader)

	catalogCache := mw.NewResponseCache(cfg.CacheTTL)

	r.GET("/healthz", handler.Health)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/repair-types", catalogCache.Middleware(), handler.ListRepairTypes)

		pricing := api.Group("/pricing")
		pricing.GET("/factors", handler.GetFactors)
		pricing.GET("/quote", handler.GetQuote)
		pricing.GET("/recommendations", handler.GetRecommendations)
		pricing.GET("/stream", handler.StreamQuotes)
		pricing.GET("/rules", handler.GetRules)

		// Operator endpoints that reprice every quote.
		admin := pricing.Group("")
		admin.Use(mw.AdminAuth(cfg.AdminJWTSecret))
		admin.PATCH("/factors", handler.PatchFactors)
		admin.PUT("/rules", handler.PutRules)

		bookings := api.Group("/bookings/:id")
		bookings.GET("/progress", handler.GetBookingProgress)
		bookings.GET("/history", handler.GetBookingHistory)
		bookings.GET("/messages", handler.GetBookingMessages)
		bookings.GET("/stream", handler.StreamBookingProgress)

		api.POST("/messages/:id/read", handler.MarkMessageRead)
		api.POST("/messages/:id/actions/:action_id", handler.PerformMessageAction)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
