package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/metrics"
)

// SelfHealingStatus is a point-in-time copy of the manager state.
type SelfHealingStatus struct {
	Enabled     bool           `json:"enabled"`
	RetryCounts map[string]int `json:"retryCounts"`
	MaxRetries  int            `json:"maxRetries"`
}

// SelfHealingManager restarts failed containers within a bounded retry
// budget per container.
type SelfHealingManager struct {
	containers  *ContainerService
	publisher   *Publisher
	metrics     *metrics.Metrics
	maxRetries  int
	settleDelay time.Duration

	mu          sync.Mutex
	enabled     bool
	retryCounts map[string]int
	notified    map[string]bool

	wg sync.WaitGroup
}

// NewSelfHealingManager creates a manager with the given retry ceiling and
// settle delay before each restart.
func NewSelfHealingManager(containers *ContainerService, publisher *Publisher, m *metrics.Metrics,
	enabled bool, maxRetries int, settleDelay time.Duration) *SelfHealingManager {
	return &SelfHealingManager{
		containers:  containers,
		publisher:   publisher,
		metrics:     m,
		maxRetries:  maxRetries,
		settleDelay: settleDelay,
		enabled:     enabled,
		retryCounts: make(map[string]int),
		notified:    make(map[string]bool),
	}
}

// Run subscribes to container and health failure events and handles them
// until ctx is cancelled. Handlers run concurrently; Run waits for them
// before returning.
func (m *SelfHealingManager) Run(ctx context.Context) error {
	sub, err := m.publisher.Bus().Subscribe(ctx, eventbus.ChannelDockerEvent, eventbus.ChannelHealthCheckFailed)
	if err != nil {
		return err
	}
	defer sub.Close()
	defer m.wg.Wait()

	logrus.Infof("Self-healing manager started (enabled: %v, max retries: %d)", m.IsEnabled(), m.maxRetries)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			m.dispatch(ctx, event)
		}
	}
}

func (m *SelfHealingManager) dispatch(ctx context.Context, event eventbus.Event) {
	switch event.Name {
	case eventbus.ChannelDockerEvent:
		payload, err := eventbus.Decode[eventbus.DockerEventPayload](event)
		if err != nil {
			logrus.Warnf("Ignoring malformed docker event: %v", err)
			return
		}
		// kill, restart and destroy are operator or runtime actions
		if payload.Action != "die" && payload.Action != "oom" {
			logrus.WithField("container", payload.Container).Debugf("Ignoring %s event", payload.Action)
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.HandleContainerFailure(ctx, payload.Container, payload)
		}()

	case eventbus.ChannelHealthCheckFailed:
		payload, err := eventbus.Decode[eventbus.HealthCheckFailedPayload](event)
		if err != nil {
			logrus.Warnf("Ignoring malformed health failure: %v", err)
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.HandleHealthCheckFailure(ctx, payload)
		}()
	}
}

// HandleContainerFailure reacts to a container failure. Once a container's
// counter reaches the ceiling no further action is taken and the counter is
// left as is until a restart succeeds through another path.
func (m *SelfHealingManager) HandleContainerFailure(ctx context.Context, name string, event eventbus.DockerEventPayload) {
	log := logrus.WithField("container", name)

	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	count := m.retryCounts[name]
	if count >= m.maxRetries {
		first := !m.notified[name]
		m.notified[name] = true
		m.mu.Unlock()

		m.metrics.SelfHealingRestarts.WithLabelValues("ceiling").Inc()
		log.Warnf("Retry ceiling reached (%d), manual intervention required", count)
		if first {
			m.publisher.Notify(ctx, eventbus.ChannelManualIntervention, eventbus.ManualInterventionPayload{
				Container: name,
				Retries:   count,
			})
		}
		return
	}
	m.retryCounts[name] = count + 1
	m.mu.Unlock()

	log.Infof("Container %s, restart attempt %d/%d", event.Action, count+1, m.maxRetries)

	if !m.settle(ctx) {
		return
	}
	if err := m.RestartContainer(ctx, name, ""); err != nil {
		log.Errorf("Self-healing restart failed: %v", err)
	}
}

// HandleHealthCheckFailure restarts the container behind a failed health
// probe. It is gated on enabled but not on the retry ceiling.
func (m *SelfHealingManager) HandleHealthCheckFailure(ctx context.Context, payload eventbus.HealthCheckFailedPayload) {
	if !m.IsEnabled() {
		return
	}

	logrus.WithField("service", payload.Service).Warnf("Health check failed (%s), restarting", payload.Reason)
	if err := m.RestartContainer(ctx, payload.Service, payload.Container); err != nil {
		logrus.WithField("service", payload.Service).Errorf("Self-healing restart failed: %v", err)
	}
}

// RestartContainer resolves and restarts a container. A successful restart
// clears the container's retry counter.
func (m *SelfHealingManager) RestartContainer(ctx context.Context, name, explicit string) error {
	resolved, err := m.containers.Restart(ctx, name, explicit, models.TriggerSelfHealing)
	switch {
	case errors.Is(err, ErrContainerNotFound):
		m.metrics.SelfHealingRestarts.WithLabelValues("not_found").Inc()
		return err
	case err != nil:
		m.metrics.SelfHealingRestarts.WithLabelValues("failure").Inc()
		return err
	}

	m.metrics.SelfHealingRestarts.WithLabelValues("success").Inc()
	m.mu.Lock()
	delete(m.retryCounts, name)
	delete(m.notified, name)
	if resolved != name {
		delete(m.retryCounts, resolved)
		delete(m.notified, resolved)
	}
	m.mu.Unlock()
	return nil
}

func (m *SelfHealingManager) settle(ctx context.Context) bool {
	if m.settleDelay <= 0 {
		return true
	}
	timer := time.NewTimer(m.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Enable turns self-healing on.
func (m *SelfHealingManager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	logrus.Info("Self-healing enabled")
}

// Disable turns self-healing off. Pending handlers still finish.
func (m *SelfHealingManager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	logrus.Info("Self-healing disabled")
}

// IsEnabled reports whether self-healing is on.
func (m *SelfHealingManager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Status returns a snapshot; the map is a copy.
func (m *SelfHealingManager) Status() SelfHealingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.retryCounts))
	for name, count := range m.retryCounts {
		counts[name] = count
	}
	return SelfHealingStatus{
		Enabled:     m.enabled,
		RetryCounts: counts,
		MaxRetries:  m.maxRetries,
	}
}
