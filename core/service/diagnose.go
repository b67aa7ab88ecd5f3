package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/models"
	"nfcunha/vigil/utils/config"
)

// DiagnoseLogTail is the number of log lines returned per service.
const DiagnoseLogTail = 300

// DiagnoseService fans health, logs and restart queries out over a set of
// services and folds the outcomes into one report.
type DiagnoseService struct {
	registry   config.Registry
	health     *HealthChecker
	containers *ContainerService
	publisher  *Publisher
}

// NewDiagnoseService creates a diagnose service over the service registry.
func NewDiagnoseService(services config.Registry, health *HealthChecker,
	containers *ContainerService, publisher *Publisher) *DiagnoseService {
	return &DiagnoseService{
		registry:   services,
		health:     health,
		containers: containers,
		publisher:  publisher,
	}
}

// Diagnose runs the requested actions for each service in order. One
// service failing never stops the others.
func (s *DiagnoseService) Diagnose(ctx context.Context, services, actions []string) *models.DiagnoseReport {
	want := make(map[string]bool, len(actions))
	for _, a := range actions {
		want[a] = true
	}

	report := &models.DiagnoseReport{
		Services: make([]models.ServiceHealthReport, 0, len(services)),
		Summary:  models.DiagnoseSummary{Errors: []string{}},
	}

	for _, name := range services {
		entry, errs := s.diagnoseOne(ctx, name, want)
		report.Services = append(report.Services, entry)

		report.Summary.Total++
		if len(errs) == 0 {
			report.Summary.Healthy++
		} else {
			report.Summary.Unhealthy++
			for _, e := range errs {
				report.Summary.Errors = append(report.Summary.Errors, fmt.Sprintf("%s: %s", name, e))
			}
		}
	}
	report.CompletedAt = time.Now().UTC()

	logrus.WithFields(logrus.Fields{
		"total":     report.Summary.Total,
		"unhealthy": report.Summary.Unhealthy,
	}).Info("Diagnose completed")

	s.publisher.Notify(ctx, eventbus.ChannelDiagnoseCompleted, eventbus.DiagnoseCompletedPayload{
		Services:  services,
		Actions:   actions,
		Total:     report.Summary.Total,
		Healthy:   report.Summary.Healthy,
		Unhealthy: report.Summary.Unhealthy,
		Errors:    report.Summary.Errors,
	})
	return report
}

func (s *DiagnoseService) diagnoseOne(ctx context.Context, name string, want map[string]bool) (models.ServiceHealthReport, []string) {
	entry := models.ServiceHealthReport{ServiceName: name}
	var errs []string

	target, known := s.registry.ByName(name)
	if !known {
		target = config.ServiceTarget{Name: name}
	}

	if want[models.DiagnoseHealth] {
		var result models.HealthResult
		if known {
			result = s.health.Check(ctx, target.URL)
		} else {
			result = models.HealthResult{Error: reasonUnknown}
		}
		entry.Health = &result
		if !result.OK {
			errs = append(errs, result.Error)
		}
	}

	if want[models.DiagnoseLogs] {
		result := &models.LogsResult{}
		container, lines, err := s.containers.TailLogs(ctx, name, target.Container, DiagnoseLogTail)
		result.Container = container
		switch {
		case errors.Is(err, ErrContainerNotFound):
			result.Error = "not-found"
			errs = append(errs, "logs: not-found")
		case err != nil:
			result.Error = err.Error()
			errs = append(errs, "logs: "+err.Error())
		default:
			result.Found = true
			result.Lines = lines
		}
		entry.Logs = result
	}

	if want[models.DiagnoseRestart] {
		result := &models.RestartResult{}
		container, err := s.containers.Restart(ctx, name, target.Container, models.TriggerDiagnose)
		result.Container = container
		switch {
		case errors.Is(err, ErrContainerNotFound):
			result.Error = "not-found"
			errs = append(errs, "restart: not-found")
		case err != nil:
			result.Error = err.Error()
			errs = append(errs, "restart: "+err.Error())
		default:
			result.OK = true
		}
		entry.Restart = result
	}

	return entry, errs
}
