package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/metrics"
)

// Publisher wraps the event bus with metrics and best-effort error logging.
type Publisher struct {
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

// NewPublisher creates a publisher over bus.
func NewPublisher(bus eventbus.Bus, m *metrics.Metrics) *Publisher {
	return &Publisher{bus: bus, metrics: m}
}

// Publish sends payload on channel and returns the bus error.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) error {
	err := p.bus.Publish(ctx, channel, payload)
	if p.metrics != nil {
		p.metrics.BusPublishes.WithLabelValues(channel, metrics.Result(err)).Inc()
	}
	return err
}

// Notify publishes and logs a failure instead of returning it.
func (p *Publisher) Notify(ctx context.Context, channel string, payload any) {
	if err := p.Publish(ctx, channel, payload); err != nil {
		logrus.WithField("channel", channel).Warnf("Failed to publish event: %v", err)
	}
}

// Bus returns the underlying bus for components that subscribe.
func (p *Publisher) Bus() eventbus.Bus {
	return p.bus
}

// recordEvent writes an entry to the audit event log. repo may be nil.
func recordEvent(repo *repository.EventLogRepository, eventType, level, message string, metadata any) {
	if repo == nil {
		return
	}

	entry := &models.EventLog{
		EventType: eventType,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(raw)
		}
	}

	if err := repo.Create(entry); err != nil {
		logrus.Warnf("Failed to record %s event: %v", eventType, err)
	}
}
