package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/service"
)

// PatchHandler handles the auto-patch endpoints.
type PatchHandler struct {
	patchService *service.PatchService
}

// NewPatchHandler creates a new patch handler.
func NewPatchHandler(patchService *service.PatchService) *PatchHandler {
	return &PatchHandler{patchService: patchService}
}

// PatchRequestBody is the body of POST /patch/request.
type PatchRequestBody struct {
	Service     string   `json:"service"`
	Description string   `json:"description"`
	Logs        []string `json:"logs"`
	ContainerID string   `json:"containerId"`
}

// ApplyPatchBody is the body of POST /patch/apply.
type ApplyPatchBody struct {
	Service     string `json:"service"`
	Patch       string `json:"patch"`
	Description string `json:"description"`
}

// RequestPatch handles POST /patch/request
// Blocks until a producer answers or the response timeout elapses; an
// empty patch means no answer arrived.
func (h *PatchHandler) RequestPatch(c *gin.Context) {
	var body PatchRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	patch, err := h.patchService.RequestPatch(c.Request.Context(), models.PatchRequest{
		Service:     body.Service,
		Error:       body.Description,
		Logs:        body.Logs,
		ContainerID: body.ContainerID,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "Failed to request patch",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patch":     patch,
		"requested": true,
	})
}

// RespondPatch handles POST /patch/response
func (h *PatchHandler) RespondPatch(c *gin.Context) {
	var body eventbus.PatchResponsePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	if err := h.patchService.RespondPatch(c.Request.Context(), body); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "Failed to publish patch response",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// ApplyPatch handles POST /patch/apply
// Pipeline failures are reported in the body with success=false.
func (h *PatchHandler) ApplyPatch(c *gin.Context) {
	var body ApplyPatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	entry, err := h.patchService.ApplyPatch(c.Request.Context(), body.Service, body.Patch, body.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to record patch",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, patchResult(entry))
}

// RollbackPatch handles POST /patch/:id/rollback
func (h *PatchHandler) RollbackPatch(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Patch ID is required",
		})
		return
	}

	entry, err := h.patchService.RollbackPatch(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrPatchNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrPatchNotRollbackable), errors.Is(err, service.ErrCommitUnknown):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error":  "Failed to roll back patch",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, patchResult(entry))
}

// History handles GET /patch/history
func (h *PatchHandler) History(c *gin.Context) {
	history := h.patchService.History()
	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"count":   len(history),
	})
}

// GetPatch handles GET /patch/:id
func (h *PatchHandler) GetPatch(c *gin.Context) {
	entry, ok := h.patchService.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Patch not found",
		})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func patchResult(entry *models.PatchLog) gin.H {
	result := gin.H{
		"success": entry.Status == models.PatchApplied || entry.Status == models.PatchRolledBack,
		"patchId": entry.ID,
		"status":  entry.Status,
	}
	if entry.GitCommit != "" {
		result["gitCommit"] = entry.GitCommit
	}
	if entry.Failure != "" {
		result["error"] = entry.Failure
	}
	return result
}
