package models

import "time"

// PatchStatus is the lifecycle state of a patch attempt.
//
//	pending ──► applied ──► rolled_back
//	   │
//	   └──────► failed
type PatchStatus string

const (
	PatchPending    PatchStatus = "pending"
	PatchApplied    PatchStatus = "applied"
	PatchFailed     PatchStatus = "failed"
	PatchRolledBack PatchStatus = "rolled_back"
)

// CommitUnknown is recorded when a commit happened but its hash could not
// be read from the git output.
const CommitUnknown = "unknown"

// PatchRequest asks an external producer for a patch fixing a failing service.
type PatchRequest struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	Error       string    `json:"error"`
	Logs        []string  `json:"logs"`
	ContainerID string    `json:"containerId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PatchLog is one entry of the durable patch log.
type PatchLog struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Service     string      `json:"service"`
	Error       string      `json:"error"`
	Patch       string      `json:"patch"`
	Status      PatchStatus `json:"status"`
	GitCommit   string      `json:"gitCommit,omitempty"`
	TestResults *bool       `json:"testResults,omitempty"`
	Failure     string      `json:"failure,omitempty"`
	Stats       *PatchStats `json:"stats,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// PatchStats summarizes the files and lines touched by a patch.
type PatchStats struct {
	Files     []string `json:"files"`
	Additions int      `json:"additions"`
	Deletions int      `json:"deletions"`
}

// CanRollback reports whether the entry is eligible for rollback.
func (p *PatchLog) CanRollback() bool {
	return p.Status == PatchApplied
}

// Clone returns a deep copy of the entry.
func (p *PatchLog) Clone() *PatchLog {
	out := *p
	if p.TestResults != nil {
		v := *p.TestResults
		out.TestResults = &v
	}
	if p.Stats != nil {
		stats := *p.Stats
		stats.Files = append([]string(nil), p.Stats.Files...)
		out.Stats = &stats
	}
	return &out
}
