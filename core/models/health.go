package models

import "time"

// Diagnose actions.
const (
	DiagnoseHealth  = "health"
	DiagnoseLogs    = "logs"
	DiagnoseRestart = "restart"
)

// HealthResult is the outcome of calling a service's health endpoint.
type HealthResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LogsResult is a bounded tail of a service container's output.
type LogsResult struct {
	Found     bool     `json:"found"`
	Container string   `json:"container,omitempty"`
	Lines     []string `json:"lines,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// RestartResult is the outcome of restarting a service container.
type RestartResult struct {
	OK        bool   `json:"ok"`
	Container string `json:"container,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServiceHealthReport is computed fresh for each service in a diagnose call.
type ServiceHealthReport struct {
	ServiceName string         `json:"service"`
	Health      *HealthResult  `json:"health,omitempty"`
	Logs        *LogsResult    `json:"logs,omitempty"`
	Restart     *RestartResult `json:"restart,omitempty"`
}

// DiagnoseSummary folds per-service outcomes into counts.
type DiagnoseSummary struct {
	Total     int      `json:"total"`
	Healthy   int      `json:"healthy"`
	Unhealthy int      `json:"unhealthy"`
	Errors    []string `json:"errors"`
}

// DiagnoseReport is the aggregate response of a diagnose call.
type DiagnoseReport struct {
	Services    []ServiceHealthReport `json:"services"`
	Summary     DiagnoseSummary       `json:"summary"`
	CompletedAt time.Time             `json:"completedAt"`
}

// AuthUser is the principal derived from a verified bearer token.
type AuthUser struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the user holds the named permission.
func (u *AuthUser) HasPermission(permission string) bool {
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
