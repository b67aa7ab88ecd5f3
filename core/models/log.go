// Package models defines domain models for Vigil.
package models

import "time"

// HealthCheckLog represents one probe of a service's health endpoint.
type HealthCheckLog struct {
	ID            int64     `json:"id"`
	ServiceName   string    `json:"service_name"`
	ContainerName string    `json:"container_name,omitempty"`
	Status        string    `json:"status"` // healthy, unhealthy
	HTTPStatus    int       `json:"http_status,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// ActionLog represents an action performed against a container or the patch tree.
type ActionLog struct {
	ID           int64     `json:"id"`
	ActionType   string    `json:"action_type"`   // restart, patch_apply, patch_rollback
	ResourceType string    `json:"resource_type"` // container, patch
	ResourceID   string    `json:"resource_id"`
	ResourceName string    `json:"resource_name,omitempty"`
	Trigger      string    `json:"trigger,omitempty"` // self_healing, diagnose, operator
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// EventLog represents a system event log entry.
type EventLog struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"` // docker, webhook, self_healing
	Level     string    `json:"level"`      // info, warning, error
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata,omitempty"` // JSON-encoded additional data
	CreatedAt time.Time `json:"created_at"`
}

// Action types recorded in the action log.
const (
	ActionRestart       = "restart"
	ActionPatchApply    = "patch_apply"
	ActionPatchRollback = "patch_rollback"

	ActionSelfHealingEnable  = "self_healing_enable"
	ActionSelfHealingDisable = "self_healing_disable"
)

// Triggers recorded in the action log.
const (
	TriggerSelfHealing = "self_healing"
	TriggerDiagnose    = "diagnose"
	TriggerOperator    = "operator"
)
