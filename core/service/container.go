// Package service provides the supervision, diagnose and patch logic of Vigil.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/utils/docker"
)

// ErrContainerNotFound is returned when no container matches a service or name.
var ErrContainerNotFound = errors.New("container not found")

// composeServiceLabel is set by docker compose on every service container.
const composeServiceLabel = "com.docker.compose.service"

// ContainerRuntime is the subset of the Docker API Vigil depends on.
// *docker.Client satisfies it.
type ContainerRuntime interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

var _ ContainerRuntime = (*docker.Client)(nil)

// ContainerService resolves logical names to containers and acts on them.
type ContainerService struct {
	runtime       ContainerRuntime
	actionLogRepo *repository.ActionLogRepository
}

// NewContainerService creates a new container service. actionLogRepo may be nil.
func NewContainerService(runtime ContainerRuntime, actionLogRepo *repository.ActionLogRepository) *ContainerService {
	return &ContainerService{
		runtime:       runtime,
		actionLogRepo: actionLogRepo,
	}
}

// Resolve finds the container for name. Matching is tried in order: the
// compose service label, the explicit container name, the exact container
// name, then a substring of the container name. Running containers win
// within the same tier.
func (s *ContainerService) Resolve(ctx context.Context, name, explicit string) (*types.Container, error) {
	if s.runtime == nil {
		return nil, fmt.Errorf("%w: container runtime unavailable", ErrContainerNotFound)
	}

	containers, err := s.runtime.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	matchers := []func(c types.Container) bool{
		func(c types.Container) bool { return c.Labels[composeServiceLabel] == name },
		func(c types.Container) bool { return explicit != "" && docker.ContainerName(c.Names) == explicit },
		func(c types.Container) bool { return docker.ContainerName(c.Names) == name },
		func(c types.Container) bool {
			return name != "" && strings.Contains(strings.ToLower(docker.ContainerName(c.Names)), strings.ToLower(name))
		},
	}

	for _, match := range matchers {
		var found *types.Container
		for i := range containers {
			if !match(containers[i]) {
				continue
			}
			if found == nil || (found.State != "running" && containers[i].State == "running") {
				found = &containers[i]
			}
		}
		if found != nil {
			return found, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
}

// Restart resolves name and restarts the container, recording the action
// with the given trigger. It returns the resolved container name.
func (s *ContainerService) Restart(ctx context.Context, name, explicit, trigger string) (string, error) {
	c, err := s.Resolve(ctx, name, explicit)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			s.logAction(models.ActionRestart, "", name, trigger, false, err)
		}
		return "", err
	}

	containerName := docker.ContainerName(c.Names)
	timeout := 10
	err = s.runtime.ContainerRestart(ctx, c.ID, container.StopOptions{Timeout: &timeout})
	s.logAction(models.ActionRestart, c.ID, containerName, trigger, err == nil, err)
	if err != nil {
		return containerName, fmt.Errorf("failed to restart %s: %w", containerName, err)
	}

	logrus.WithField("container", containerName).Info("Container restarted")
	return containerName, nil
}

// TailLogs returns the last lines of combined stdout/stderr for the
// container serving name.
func (s *ContainerService) TailLogs(ctx context.Context, name, explicit string, lines int) (string, []string, error) {
	c, err := s.Resolve(ctx, name, explicit)
	if err != nil {
		return "", nil, err
	}

	containerName := docker.ContainerName(c.Names)
	reader, err := s.runtime.ContainerLogs(ctx, c.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", lines),
	})
	if err != nil {
		return containerName, nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	data, err := readLogStream(reader)
	if err != nil {
		return containerName, nil, err
	}
	return containerName, splitLines(data, lines), nil
}

// Snapshot lists every container, running or stopped.
func (s *ContainerService) Snapshot(ctx context.Context) ([]eventbus.ContainerSummary, error) {
	if s.runtime == nil {
		return nil, errors.New("container runtime unavailable")
	}

	containers, err := s.runtime.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]eventbus.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		out = append(out, eventbus.ContainerSummary{
			ID:     c.ID,
			Name:   docker.ContainerName(c.Names),
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
		})
	}
	return out, nil
}

// logAction logs an action to the database.
func (s *ContainerService) logAction(actionType, resourceID, resourceName, trigger string, success bool, err error) {
	if s.actionLogRepo == nil {
		return
	}

	actionLog := &models.ActionLog{
		ActionType:   actionType,
		ResourceType: "container",
		ResourceID:   resourceID,
		ResourceName: resourceName,
		Trigger:      trigger,
		Success:      success,
		ExecutedAt:   time.Now(),
	}
	if actionLog.ResourceID == "" {
		actionLog.ResourceID = resourceName
	}
	if err != nil {
		actionLog.ErrorMessage = err.Error()
	}

	if logErr := s.actionLogRepo.Create(actionLog); logErr != nil {
		logrus.Warnf("Failed to log action: %v", logErr)
	}
}
