package eventbus

import (
	"encoding/json"
	"time"
)

// Channel names.
const (
	ChannelDockerEvent        = "docker.event"
	ChannelDockerSnapshot     = "docker.snapshot"
	ChannelPatchRequested     = "patch.requested"
	ChannelPatchResponse      = "patch.response"
	ChannelPatchApplied       = "patch.applied"
	ChannelPatchFailed        = "patch.failed"
	ChannelPatchRolledBack    = "patch.rolled_back"
	ChannelBuilderUpdate      = "builder.update"
	ChannelDiagnoseCompleted  = "claude.diagnose_completed"
	ChannelHealthCheckFailed  = "health.check_failed"
	ChannelManualIntervention = "self_healing.manual_intervention"
)

// AllChannels lists every channel Vigil publishes or consumes.
var AllChannels = []string{
	ChannelDockerEvent,
	ChannelDockerSnapshot,
	ChannelPatchRequested,
	ChannelPatchResponse,
	ChannelPatchApplied,
	ChannelPatchFailed,
	ChannelPatchRolledBack,
	ChannelBuilderUpdate,
	ChannelDiagnoseCompleted,
	ChannelHealthCheckFailed,
	ChannelManualIntervention,
}

// DockerEventPayload is a runtime event that passed the failure allow-list.
type DockerEventPayload struct {
	Event      json.RawMessage `json:"event"`
	Container  string          `json:"container"`
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// ContainerSummary is one entry in a fleet snapshot.
type ContainerSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	State  string `json:"state"`
	Status string `json:"status"`
}

// SnapshotPayload lists every container known to the runtime.
type SnapshotPayload struct {
	Containers []ContainerSummary `json:"containers"`
	TakenAt    time.Time          `json:"takenAt"`
}

// HealthCheckFailedPayload reports a failed synchronous health probe.
type HealthCheckFailedPayload struct {
	Service   string    `json:"service"`
	Container string    `json:"container,omitempty"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ManualInterventionPayload is published once when a container exhausts its retries.
type ManualInterventionPayload struct {
	Container string `json:"container"`
	Retries   int    `json:"retries"`
}

// PatchRequestedPayload asks an external producer for a patch.
type PatchRequestedPayload struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	Error       string    `json:"error"`
	Logs        []string  `json:"logs"`
	ContainerID string    `json:"containerId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PatchResponsePayload carries a produced patch back to the requester.
// RequestID is optional; without it the response is matched by service.
type PatchResponsePayload struct {
	RequestID string `json:"requestId,omitempty"`
	Service   string `json:"service"`
	Patch     string `json:"patch"`
}

// PatchResultPayload announces a terminal patch transition.
type PatchResultPayload struct {
	ID        string `json:"id"`
	Service   string `json:"service"`
	Status    string `json:"status"`
	GitCommit string `json:"gitCommit,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BuilderUpdatePayload is a verified content-publish callback.
type BuilderUpdatePayload struct {
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// DiagnoseCompletedPayload summarizes a diagnose call.
type DiagnoseCompletedPayload struct {
	Services  []string `json:"services"`
	Actions   []string `json:"actions"`
	Total     int      `json:"total"`
	Healthy   int      `json:"healthy"`
	Unhealthy int      `json:"unhealthy"`
	Errors    []string `json:"errors"`
}
