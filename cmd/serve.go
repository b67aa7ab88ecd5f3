package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/core/service"
	"nfcunha/vigil/database"
	"nfcunha/vigil/handler"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/middleware"
	"nfcunha/vigil/utils/config"
	"nfcunha/vigil/utils/docker"
	"nfcunha/vigil/utils/logger"
)

const (
	retentionInterval = 24 * time.Hour
	busRetryDelay     = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	logrus.Info("Starting Vigil...")

	// Initialize database
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrus.Errorf("Error closing database: %v", err)
		}
	}()
	logrus.Info("Database initialized successfully")

	actionLogRepo := repository.NewActionLogRepository(db)
	healthCheckRepo := repository.NewHealthCheckLogRepository(db)
	eventLogRepo := repository.NewEventLogRepository(db)

	patchStore := repository.NewPatchLogStore(cfg.Patch.LogPath)
	if err := patchStore.Load(); err != nil {
		return err
	}
	logrus.Infof("Patch log loaded (%d entries)", len(patchStore.Entries()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := newBus(cfg.Redis)
	defer bus.Close()
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 5*time.Second)
	if err := bus.Connect(connectCtx); err != nil {
		logrus.Warnf("Event bus not reachable, publishes will retry: %v", err)
	}
	cancelConnect()

	// A missing daemon disables the watcher and container actions only.
	var runtime service.ContainerRuntime
	dockerClient, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		logrus.Warnf("Failed to create Docker client: %v", err)
	} else {
		defer dockerClient.Close()
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dockerClient.Ping(pingCtx); err != nil {
			logrus.Warnf("Docker daemon not reachable, container actions disabled: %v", err)
		} else {
			runtime = dockerClient
			logrus.Info("Docker client initialized successfully")
		}
		cancelPing()
	}

	publisher := service.NewPublisher(bus, m)
	checker := service.NewHealthChecker(cfg.HealthProbe.Timeout)
	containers := service.NewContainerService(runtime, actionLogRepo)
	selfHealing := service.NewSelfHealingManager(containers, publisher, m,
		cfg.SelfHealing.Enabled, cfg.SelfHealing.MaxRetries, cfg.SelfHealing.SettleDelay)
	webhook := service.NewWebhookService(cfg.Security.BuilderSecret, cfg.Downstream, publisher, eventLogRepo, m)
	patches := service.NewPatchService(cfg.Patch, service.PatchServiceDeps{
		Store:         patchStore,
		Runner:        service.NewExecRunner(cfg.Patch.CommandTimeout),
		Health:        checker,
		Services:      cfg.Services,
		Publisher:     publisher,
		ActionLogRepo: actionLogRepo,
		Metrics:       m,
	})
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	retention := service.NewRetentionService(map[string]service.Pruner{
		"action_logs":       actionLogRepo,
		"health_check_logs": healthCheckRepo,
		"event_logs":        eventLogRepo,
	}, cfg.LogRetention.Days, retentionInterval)

	// Background loops
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	start := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			logrus.Debugf("%s stopped", name)
		}()
	}

	if cfg.Watcher.Enabled && runtime != nil {
		watcher := service.NewWatcher(runtime, containers, publisher, eventLogRepo, m, cfg.Watcher.SnapshotInterval)
		start("watcher", watcher.Run)
	}
	if cfg.HealthProbe.Enabled {
		prober := service.NewProber(cfg.Services, checker, healthCheckRepo, publisher, m, cfg.HealthProbe.Interval)
		start("prober", prober.Run)
	}
	start("self-healing", func(ctx context.Context) {
		for {
			err := selfHealing.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			logrus.Warnf("Self-healing subscription failed, retrying in %v: %v", busRetryDelay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(busRetryDelay):
			}
		}
	})
	start("retention", retention.Run)
	start("rate limiter", rateLimiter.Run)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
		logrus.Info("Running in RELEASE mode")
	} else {
		gin.SetMode(gin.DebugMode)
		logrus.Info("Running in DEBUG mode")
	}

	engine := handler.NewRouter(handler.RouterDeps{
		Config:        cfg,
		Bus:           bus,
		Diagnose:      service.NewDiagnoseService(cfg.Services, checker, containers, publisher),
		Webhook:       webhook,
		Patch:         patches,
		SelfHealing:   selfHealing,
		ActionLogRepo: actionLogRepo,
		HealthLogRepo: healthCheckRepo,
		EventLogRepo:  eventLogRepo,
		RateLimiter:   rateLimiter,
		Metrics:       m,
		Gatherer:      reg,
	})

	// The patch request rendezvous can hold a request for the full response timeout.
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Patch.ResponseTimeout + cfg.Patch.CommandTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Vigil listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logrus.Errorf("Server failed: %v", err)
	}

	logrus.Info("Shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Error during shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	webhook.Wait()

	logrus.Info("Server stopped gracefully")
	return nil
}

func newBus(cfg config.RedisConfig) eventbus.Bus {
	if cfg.Addr == "" {
		return eventbus.NewMemoryBus()
	}
	return eventbus.NewRedisBus(cfg)
}
