// Package handler provides HTTP handlers for the Vigil API.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nfcunha/vigil/core/service"
)

// HealthHandler serves the liveness and diagnose endpoints.
type HealthHandler struct {
	diagnoseService *service.DiagnoseService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(diagnoseService *service.DiagnoseService) *HealthHandler {
	return &HealthHandler{diagnoseService: diagnoseService}
}

// DiagnoseRequest is the body of POST /diagnose.
type DiagnoseRequest struct {
	Services []string `json:"services"`
	Actions  []string `json:"actions"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"ts": time.Now().UTC(),
	})
}

// Diagnose handles POST /diagnose
// Actions default to health only.
func (h *HealthHandler) Diagnose(c *gin.Context) {
	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}
	if len(req.Actions) == 0 {
		req.Actions = []string{"health"}
	}

	report := h.diagnoseService.Diagnose(c.Request.Context(), req.Services, req.Actions)
	c.JSON(http.StatusOK, report)
}
