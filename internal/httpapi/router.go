// Package httpapi is the REST shim over the orchestrator: one gin.Engine,
// rate-limited exactly the way the tracking service's
// buildRateLimitMiddleware does it, mapping each route in the unified
// operation table (§4.9/§6) to one Engine method.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/observability"
	"github.com/tripwatch/geosentry/internal/orchestrator"
)

// NewRouter builds the gin.Engine wired against eng, mirroring the
// teacher's setupRouter: Recovery, rate limiting, health, metrics, then the
// resource routes.
func NewRouter(eng *orchestrator.Engine, cfg config.HTTPConfig, metrics *observability.Metrics, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(buildRateLimitMiddleware(cfg.RateLimitPerMinute, logger))

	h := &handler{eng: eng, logger: logger}

	router.GET("/health", h.getHealthStatus)
	if metrics != nil && metrics.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}

	router.POST("/location", h.updateLocation)
	router.POST("/location/queue", h.queueLocationUpdate)
	router.POST("/locations/bulk", h.processBulkLocations)
	router.GET("/location/:userId", h.getUserLocation)

	router.POST("/nearby", h.findNearbyUsers)
	router.POST("/within", h.findUsersInZone)

	router.POST("/zones", h.createZone)
	router.DELETE("/zones/:zoneId", h.deleteZone)

	router.POST("/distance", h.calculateDistance)
	router.POST("/distance/matrix", h.calculateDistanceMatrix)
	router.POST("/nearest", h.findNearestPoint)

	router.GET("/stats/processing", h.getProcessingStats)
	router.GET("/stats/cache", h.getCacheStats)

	router.POST("/webhooks", h.registerWebhook)
	router.PUT("/webhooks/:webhookId", h.updateWebhook)
	router.DELETE("/webhooks/:webhookId", h.removeWebhook)
	router.POST("/webhooks/:webhookId/test", h.testWebhook)
	router.GET("/webhooks/stats", h.getWebhookStats)

	return router
}

// buildRateLimitMiddleware follows the same per-process token-bucket
// middleware pattern used elsewhere in this codebase, generalized from a
// "N/unit" string to requests-per-minute taken straight from config.
func buildRateLimitMiddleware(requestsPerMinute int, logger *zap.Logger) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 6000
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded", zap.String("path", c.Request.URL.Path), zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
