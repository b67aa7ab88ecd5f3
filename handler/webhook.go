package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/service"
)

// BuilderSecretHeader carries the builder's shared secret.
const BuilderSecretHeader = "x-builder-secret"

const maxWebhookBody = 1 << 20

// WebhookHandler handles builder callbacks.
type WebhookHandler struct {
	webhookService *service.WebhookService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhookService *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// Builder handles POST /webhook/builder
func (h *WebhookHandler) Builder(c *gin.Context) {
	if !h.webhookService.Authenticate(c.GetHeader(BuilderSecretHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthorized",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Failed to read request body",
			"detail": err.Error(),
		})
		return
	}

	if err := h.webhookService.Handle(c.Request.Context(), body); err != nil {
		logrus.Errorf("Builder webhook not forwarded: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "Failed to forward builder update",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
