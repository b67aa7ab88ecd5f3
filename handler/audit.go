package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/utils/config"
)

// AuditHandler serves the probe and event history kept in the audit store.
type AuditHandler struct {
	services        config.Registry
	healthCheckRepo *repository.HealthCheckLogRepository
	eventLogRepo    *repository.EventLogRepository
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(services config.Registry, healthCheckRepo *repository.HealthCheckLogRepository,
	eventLogRepo *repository.EventLogRepository) *AuditHandler {
	return &AuditHandler{
		services:        services,
		healthCheckRepo: healthCheckRepo,
		eventLogRepo:    eventLogRepo,
	}
}

// HealthHistory handles GET /health/history/:service
// Query parameters:
//   - limit: integer (default 50, max 500)
func (h *AuditHandler) HealthHistory(c *gin.Context) {
	name := c.Param("service")
	if _, ok := h.services.ByName(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Service not found",
			"detail": "no registered service named " + name,
		})
		return
	}

	checks, err := h.healthCheckRepo.GetByService(name, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to load health history",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service": name,
		"checks":  checks,
		"count":   len(checks),
	})
}

// RecentEvents handles GET /events/recent
// Query parameters:
//   - type: docker, webhook or self_healing (optional)
//   - level: info, warning or error (optional)
//   - limit: integer (default 50, max 500)
func (h *AuditHandler) RecentEvents(c *gin.Context) {
	events, err := h.eventLogRepo.List(repository.EventLogFilter{
		Type:  c.Query("type"),
		Level: c.Query("level"),
		Limit: queryLimit(c),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to load events",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// queryLimit reads the limit query parameter. Zero leaves the default to the repository.
func queryLimit(c *gin.Context) int {
	l, err := strconv.Atoi(c.Query("limit"))
	if err != nil || l < 0 {
		return 0
	}
	return l
}
