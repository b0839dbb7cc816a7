package router

import (
	"plane-relay/api/handlers"
	"plane-relay/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(handler *handlers.PlaneWebhookHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())

	// Health check endpoint (no authentication required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Metrics endpoint for Prometheus (no authentication required)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Plane pings the endpoint with GET when the webhook is registered.
	router.GET("/plane/webhook", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Webhook endpoint is ready",
			"service": "Plane Discord Relay",
		})
	})

	// The relay endpoint; authentication happens inside the handler via
	// payload signature verification, not via middleware.
	router.POST("/plane/webhook", middleware.ValidatePayload(), handler.HandleWebhook)

	return router
}
