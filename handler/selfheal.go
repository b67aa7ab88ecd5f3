package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/core/service"
	"nfcunha/vigil/middleware"
)

// SelfHealingHandler exposes the self-healing manager.
type SelfHealingHandler struct {
	manager       *service.SelfHealingManager
	actionLogRepo *repository.ActionLogRepository
}

// NewSelfHealingHandler creates a new self-healing handler.
func NewSelfHealingHandler(manager *service.SelfHealingManager, actionLogRepo *repository.ActionLogRepository) *SelfHealingHandler {
	return &SelfHealingHandler{
		manager:       manager,
		actionLogRepo: actionLogRepo,
	}
}

// Status handles GET /self-healing/status
func (h *SelfHealingHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

// Enable handles POST /self-healing/enable
func (h *SelfHealingHandler) Enable(c *gin.Context) {
	h.manager.Enable()
	h.logToggle(c, true)
	c.JSON(http.StatusOK, h.manager.Status())
}

// Disable handles POST /self-healing/disable
func (h *SelfHealingHandler) Disable(c *gin.Context) {
	h.manager.Disable()
	h.logToggle(c, false)
	c.JSON(http.StatusOK, h.manager.Status())
}

// Actions handles GET /self-healing/actions
// Query parameters:
//   - container: container id or name (optional)
//   - limit: integer (default 50, max 500)
func (h *SelfHealingHandler) Actions(c *gin.Context) {
	var (
		actions []*models.ActionLog
		err     error
	)
	if container := c.Query("container"); container != "" {
		actions, err = h.actionLogRepo.GetByResource("container", container, queryLimit(c))
	} else {
		actions, err = h.actionLogRepo.GetRecent(queryLimit(c))
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to load action log",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"actions": actions,
		"count":   len(actions),
	})
}

func (h *SelfHealingHandler) logToggle(c *gin.Context, enabled bool) {
	user := "unknown"
	if u := middleware.GetAuthUser(c); u != nil {
		user = u.ID
	}
	action := models.ActionSelfHealingDisable
	if enabled {
		action = models.ActionSelfHealingEnable
	}
	logrus.WithField("user", user).Infof("Self-healing %s", action)

	if h.actionLogRepo == nil {
		return
	}
	if err := h.actionLogRepo.Create(&models.ActionLog{
		ActionType:   action,
		ResourceType: "self_healing",
		ResourceID:   user,
		Trigger:      models.TriggerOperator,
		Success:      true,
		ExecutedAt:   time.Now(),
	}); err != nil {
		logrus.Warnf("Failed to log action: %v", err)
	}
}
