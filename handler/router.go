package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/core/service"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/middleware"
	"nfcunha/vigil/utils/config"
)

// RoleAdmin is required to toggle self-healing.
const RoleAdmin = "admin"

// RouterDeps groups everything the HTTP surface needs.
type RouterDeps struct {
	Config        *config.Config
	Bus           eventbus.Bus
	Diagnose      *service.DiagnoseService
	Webhook       *service.WebhookService
	Patch         *service.PatchService
	SelfHealing   *service.SelfHealingManager
	ActionLogRepo *repository.ActionLogRepository
	HealthLogRepo *repository.HealthCheckLogRepository
	EventLogRepo  *repository.EventLogRepository
	RateLimiter   *middleware.RateLimiter
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
}

// NewRouter builds the gin engine with every route and its gate chain:
// rate limit, then validation, then authentication.
func NewRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.Metrics(d.Metrics))
	engine.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))

	limit := d.RateLimiter.Limit
	apiKey := middleware.APIKeyAuth(cfg.Security.APIKey)
	jwtAuth := middleware.JWTAuth(cfg.Security.JWTSecret)

	healthHandler := NewHealthHandler(d.Diagnose)
	engine.GET("/health", limit(config.ClassGeneral), healthHandler.Health)
	engine.POST("/diagnose",
		limit(config.ClassGeneral), middleware.Validate(DiagnoseRules...), jwtAuth,
		healthHandler.Diagnose)

	webhookHandler := NewWebhookHandler(d.Webhook)
	engine.POST("/webhook/builder", limit(config.ClassWebhook), webhookHandler.Builder)

	patchHandler := NewPatchHandler(d.Patch)
	patch := engine.Group("/patch")
	{
		patch.POST("/request",
			limit(config.ClassPatchRequest), middleware.Validate(PatchRequestRules...), apiKey,
			patchHandler.RequestPatch)
		patch.POST("/response",
			limit(config.ClassPatchRequest), middleware.Validate(PatchResponseRules...), apiKey,
			patchHandler.RespondPatch)
		patch.POST("/apply",
			limit(config.ClassPatchApply), middleware.Validate(PatchApplyRules...), apiKey,
			patchHandler.ApplyPatch)
		patch.POST("/:id/rollback", limit(config.ClassPatchApply), apiKey, patchHandler.RollbackPatch)
		patch.GET("/history", limit(config.ClassPatchHistory), apiKey, patchHandler.History)
		patch.GET("/:id", limit(config.ClassPatchHistory), apiKey, patchHandler.GetPatch)
	}

	selfHealingHandler := NewSelfHealingHandler(d.SelfHealing, d.ActionLogRepo)
	selfHealing := engine.Group("/self-healing")
	{
		selfHealing.GET("/status", limit(config.ClassGeneral), selfHealingHandler.Status)
		selfHealing.POST("/enable", limit(config.ClassAdminAuth), jwtAuth, middleware.RequireRole(RoleAdmin), selfHealingHandler.Enable)
		selfHealing.POST("/disable", limit(config.ClassAdminAuth), jwtAuth, middleware.RequireRole(RoleAdmin), selfHealingHandler.Disable)
		selfHealing.GET("/actions", limit(config.ClassGeneral), jwtAuth, selfHealingHandler.Actions)
	}

	auditHandler := NewAuditHandler(cfg.Services, d.HealthLogRepo, d.EventLogRepo)
	engine.GET("/health/history/:service", limit(config.ClassGeneral), jwtAuth, auditHandler.HealthHistory)

	eventHandler := NewEventHandler(d.Bus, cfg.Server.CORSOrigins)
	engine.GET("/events/ws", limit(config.ClassGeneral), jwtAuth, eventHandler.Stream)
	engine.GET("/events/recent", limit(config.ClassGeneral), jwtAuth, auditHandler.RecentEvents)

	engine.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return engine
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader, BuilderSecretHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		cc.AllowCredentials = false
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
