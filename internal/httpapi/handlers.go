package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/geo"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/orchestrator"
	"github.com/tripwatch/geosentry/internal/zones"
)

type handler struct {
	eng    *orchestrator.Engine
	logger *zap.Logger
}

// writeError maps an error to the status-code contract from §6: a wrapped
// *engine.Error carries its own HTTPStatus; anything else is a 500, since
// callers should never see a raw transport exception (§7 "Policy").
func writeError(c *gin.Context, err error) {
	var ee *engine.Error
	if errors.As(err, &ee) {
		c.JSON(ee.HTTPStatus(), gin.H{"kind": ee.Kind, "error": ee.Message, "details": ee.Details})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *handler) updateLocation(c *gin.Context) {
	var loc models.LocationUpdate
	if err := c.ShouldBindJSON(&loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location payload"})
		return
	}
	if err := h.eng.UpdateLocation(c.Request.Context(), &loc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

func (h *handler) queueLocationUpdate(c *gin.Context) {
	var loc models.LocationUpdate
	if err := c.ShouldBindJSON(&loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location payload"})
		return
	}
	if err := h.eng.QueueLocationUpdate(c.Request.Context(), &loc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "userId": loc.UserID})
}

func (h *handler) processBulkLocations(c *gin.Context) {
	var body struct {
		Updates []*models.LocationUpdate `json:"updates"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk payload"})
		return
	}
	if err := h.eng.ProcessBulkLocations(c.Request.Context(), body.Updates); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "count": len(body.Updates)})
}

func (h *handler) getUserLocation(c *gin.Context) {
	userID := c.Param("userId")
	loc, err := h.eng.GetUserLocation(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if loc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no location on record for user"})
		return
	}
	c.JSON(http.StatusOK, loc)
}

func (h *handler) findNearbyUsers(c *gin.Context) {
	var body struct {
		Center         models.Coordinate `json:"center"`
		RadiusMeters   float64           `json:"radiusMeters"`
		Limit          int               `json:"limit"`
		SortByDistance bool              `json:"sortByDistance"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nearby query"})
		return
	}
	results, err := h.eng.FindNearbyUsers(c.Request.Context(), body.Center, body.RadiusMeters, body.Limit, body.SortByDistance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *handler) findUsersInZone(c *gin.Context) {
	var body struct {
		Box     *models.BoundingBox `json:"box"`
		Polygon []models.Coordinate `json:"polygon"`
		Limit   int                 `json:"limit"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid within query"})
		return
	}
	results, err := h.eng.FindUsersInZone(c.Request.Context(), body.Box, body.Polygon, body.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *handler) createZone(c *gin.Context) {
	var in zones.ZoneInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zone payload"})
		return
	}
	z, err := h.eng.CreateZone(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, z)
}

func (h *handler) deleteZone(c *gin.Context) {
	id := c.Param("zoneId")
	if err := h.eng.DeleteZone(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "zoneId": id})
}

func (h *handler) calculateDistance(c *gin.Context) {
	var body struct {
		From models.Coordinate `json:"from"`
		To   models.Coordinate `json:"to"`
		Unit string            `json:"unit"`
		Alg  string            `json:"alg"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid distance query"})
		return
	}
	unit := geo.Unit(body.Unit)
	if unit == "" {
		unit = geo.UnitMeters
	}
	value, alg, err := h.eng.CalculateDistance(body.From, body.To, unit, geo.Algorithm(body.Alg))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value, "unit": unit, "algorithm": alg})
}

func (h *handler) calculateDistanceMatrix(c *gin.Context) {
	var body struct {
		Points []models.Coordinate `json:"points"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid matrix query"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matrix": h.eng.CalculateDistanceMatrix(body.Points)})
}

func (h *handler) findNearestPoint(c *gin.Context) {
	var body struct {
		Origin     models.Coordinate   `json:"origin"`
		Candidates []models.Coordinate `json:"candidates"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nearest query"})
		return
	}
	index, meters := h.eng.FindNearestPoint(body.Origin, body.Candidates)
	c.JSON(http.StatusOK, gin.H{"index": index, "meters": meters})
}

func (h *handler) getHealthStatus(c *gin.Context) {
	health := h.eng.GetHealthStatus()
	status := http.StatusOK
	if health.Status == orchestrator.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (h *handler) getProcessingStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.BulkStats())
}

func (h *handler) getCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.CacheStats())
}

func (h *handler) registerWebhook(c *gin.Context) {
	var in models.WebhookConfig
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}
	cfg, err := h.eng.Webhooks().RegisterWebhook(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (h *handler) updateWebhook(c *gin.Context) {
	var in models.WebhookConfig
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}
	cfg, err := h.eng.Webhooks().UpdateWebhook(c.Request.Context(), c.Param("webhookId"), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handler) removeWebhook(c *gin.Context) {
	h.eng.Webhooks().RemoveWebhook(c.Param("webhookId"))
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *handler) testWebhook(c *gin.Context) {
	if err := h.eng.Webhooks().TestWebhook(c.Request.Context(), c.Param("webhookId")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}

func (h *handler) getWebhookStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.Webhooks().GetWebhookStatistics())
}
