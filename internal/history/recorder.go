package history

import (
	"context"
	"log/slog"
	"time"

	"dployr/internal/deployment"
)

// recordTimeout bounds a single insert so a locked database cannot stall
// the coordinator's notification path.
const recordTimeout = 5 * time.Second

// Recorder persists deploy outcomes as a deployment.Notifier.
type Recorder struct {
	History *History
	Logger  *slog.Logger
}

// Notify stores event. Failures are logged and never surface to the deploy.
func (r Recorder) Notify(ctx context.Context, event deployment.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if _, err := r.History.RecordDeployment(ctx, FromEvent(event)); err != nil {
		r.Logger.Error("history_record_failed",
			"project", event.Run.Project,
			"run_id", event.Run.ID.String(),
			"error", err.Error(),
		)
	}
}

// FromEvent converts a deploy outcome into a history row.
func FromEvent(event deployment.Event) *DeploymentRecord {
	run := event.Run
	record := &DeploymentRecord{
		RunID:       run.ID.String(),
		Project:     run.Project,
		Branch:      run.Branch,
		Trigger:     string(run.Trigger),
		Status:      string(event.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: run.FinishedAt,
		HasChanges:  event.HasChanges,
	}
	if run.FinishedAt != nil {
		seconds := run.Duration().Seconds()
		record.DurationSeconds = &seconds
	}
	if run.CommitHash != "" {
		hash := run.CommitHash
		record.CommitHash = &hash
	}
	if run.Error != "" {
		msg := run.Error
		record.ErrorMessage = &msg
	}
	return record
}
