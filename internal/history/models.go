package history

import "time"

// DeploymentRecord is one finished deploy run.
type DeploymentRecord struct {
	ID              int64      `json:"id"`
	RunID           string     `json:"run_id"`
	Project         string     `json:"project"`
	Branch          string     `json:"branch"`
	Trigger         string     `json:"trigger"`
	Status          string     `json:"status"` // success, failed, skipped
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CommitHash      *string    `json:"commit_hash,omitempty"`
	HasChanges      bool       `json:"has_changes"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// DeploymentStatus represents the latest status of a project
type DeploymentStatus struct {
	Project          string             `json:"project"`
	LatestDeployment *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentHistory    []DeploymentRecord `json:"recent_history"`
}
