package deployment

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a deploy run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Trigger records what started a deploy run.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerManual  Trigger = "manual"
)

// Status is the terminal outcome reported to callers and notifiers.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Run is one deploy attempt for a project.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Project    string     `json:"project"`
	Branch     string     `json:"branch"`
	State      State      `json:"state"`
	Trigger    Trigger    `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CommitHash string     `json:"commit_hash,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Result is what ExecuteDeploy returns.
type Result struct {
	Status     Status
	HasChanges bool
	Restarted  bool
	Run        Run
	Err        error
}

// Duration returns how long the run took, or zero while it is in flight.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
