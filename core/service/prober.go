package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/metrics"
	"nfcunha/vigil/utils/config"
)

// Prober periodically checks every registered service and reports failures
// on the bus for the self-healing manager.
type Prober struct {
	services  []config.ServiceTarget
	health    *HealthChecker
	repo      *repository.HealthCheckLogRepository
	publisher *Publisher
	metrics   *metrics.Metrics
	interval  time.Duration
}

// NewProber creates a prober. repo may be nil.
func NewProber(services []config.ServiceTarget, health *HealthChecker, repo *repository.HealthCheckLogRepository,
	publisher *Publisher, m *metrics.Metrics, interval time.Duration) *Prober {
	return &Prober{
		services:  services,
		health:    health,
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
	}
}

// Run probes on every tick until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	if len(p.services) == 0 {
		logrus.Info("Health prober idle: no services registered")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logrus.Infof("Health prober started (interval: %v, services: %d)", p.interval, len(p.services))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll checks every service once.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, svc := range p.services {
		p.probe(ctx, svc)
	}
}

func (p *Prober) probe(ctx context.Context, svc config.ServiceTarget) {
	start := time.Now()
	result := p.health.Check(ctx, svc.URL)
	latency := time.Since(start)

	status := "healthy"
	if !result.OK {
		status = "unhealthy"
	}
	p.metrics.HealthProbes.WithLabelValues(svc.Name, status).Inc()

	if p.repo != nil {
		healthLog := &models.HealthCheckLog{
			ServiceName:   svc.Name,
			ContainerName: svc.Container,
			Status:        status,
			HTTPStatus:    result.Status,
			LatencyMs:     latency.Milliseconds(),
			ErrorMessage:  result.Error,
			CheckedAt:     time.Now(),
		}
		if err := p.repo.Create(healthLog); err != nil {
			logrus.Warnf("Failed to store health check log: %v", err)
		}
	}

	if result.OK {
		return
	}

	logrus.WithField("service", svc.Name).Warnf("Health probe failed: %s", result.Error)
	p.publisher.Notify(ctx, eventbus.ChannelHealthCheckFailed, eventbus.HealthCheckFailedPayload{
		Service:   svc.Name,
		Container: svc.Container,
		Reason:    result.Error,
		CheckedAt: time.Now().UTC(),
	})
}
