package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/metrics"
)

// watchedActions are the lifecycle actions forwarded to the bus.
var watchedActions = map[events.Action]bool{
	events.ActionDie:     true,
	events.ActionOOM:     true,
	events.ActionKill:    true,
	events.ActionRestart: true,
	events.ActionDestroy: true,
}

// Watcher bridges the container runtime's event stream into the event bus
// and publishes periodic fleet snapshots.
type Watcher struct {
	runtime          ContainerRuntime
	containers       *ContainerService
	publisher        *Publisher
	eventLogRepo     *repository.EventLogRepository
	metrics          *metrics.Metrics
	snapshotInterval time.Duration
}

// NewWatcher creates a watcher. eventLogRepo may be nil.
func NewWatcher(runtime ContainerRuntime, containers *ContainerService, publisher *Publisher,
	eventLogRepo *repository.EventLogRepository, m *metrics.Metrics, snapshotInterval time.Duration) *Watcher {
	return &Watcher{
		runtime:          runtime,
		containers:       containers,
		publisher:        publisher,
		eventLogRepo:     eventLogRepo,
		metrics:          m,
		snapshotInterval: snapshotInterval,
	}
}

// Run watches until ctx is cancelled or the event stream fails. It never
// panics on an unreachable runtime; monitoring is optional.
func (w *Watcher) Run(ctx context.Context) {
	if w.runtime == nil {
		logrus.Warn("Container watcher disabled: runtime unavailable")
		return
	}

	// Probe reachability before subscribing.
	if _, err := w.containers.Snapshot(ctx); err != nil {
		logrus.Warnf("Container watcher not started, runtime unreachable: %v", err)
		return
	}

	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	defer stopSnapshots()
	go w.snapshotLoop(snapshotCtx)

	logrus.Infof("Container watcher started (snapshot interval: %v)", w.snapshotInterval)
	if err := w.watch(ctx); err != nil && ctx.Err() == nil {
		logrus.Errorf("Container event stream ended: %v", err)
		return
	}
	logrus.Info("Container watcher stopped")
}

func (w *Watcher) watch(ctx context.Context) error {
	filter := filters.NewArgs()
	filter.Add("type", string(events.ContainerEventType))
	eventChan, errChan := w.runtime.Events(ctx, events.ListOptions{Filters: filter})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		case msg, ok := <-eventChan:
			if !ok {
				return nil
			}
			w.handle(ctx, msg)
		}
	}
}

// handle forwards a single runtime event. A malformed event is logged and
// skipped so the stream keeps running.
func (w *Watcher) handle(ctx context.Context, msg events.Message) {
	if msg.Type != events.ContainerEventType || !watchedActions[msg.Action] {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		logrus.Warnf("Skipping unparseable container event: %v", err)
		return
	}

	name := msg.Actor.Attributes["name"]
	payload := eventbus.DockerEventPayload{
		Event:      raw,
		Container:  name,
		ID:         msg.Actor.ID,
		Action:     string(msg.Action),
		ReceivedAt: time.Now().UTC(),
	}

	w.metrics.DockerEvents.WithLabelValues(string(msg.Action)).Inc()
	logrus.WithFields(logrus.Fields{"container": name, "action": msg.Action}).Info("Container event")

	w.publisher.Notify(ctx, eventbus.ChannelDockerEvent, payload)
	recordEvent(w.eventLogRepo, "docker", "warning", string(msg.Action)+" "+name, map[string]string{
		"container": name,
		"id":        msg.Actor.ID,
		"action":    string(msg.Action),
	})
}

func (w *Watcher) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(w.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishSnapshot(ctx)
		}
	}
}

func (w *Watcher) publishSnapshot(ctx context.Context) {
	containers, err := w.containers.Snapshot(ctx)
	if err != nil {
		logrus.Warnf("Failed to take container snapshot: %v", err)
		return
	}

	w.publisher.Notify(ctx, eventbus.ChannelDockerSnapshot, eventbus.SnapshotPayload{
		Containers: containers,
		TakenAt:    time.Now().UTC(),
	})
}
