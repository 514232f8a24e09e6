package deployment

import (
	"context"
	"log/slog"
)

// Event is a terminal deploy outcome delivered to notifiers.
type Event struct {
	Status     Status
	Run        Run
	HasChanges bool
	Restarted  bool
}

// Notifier receives deploy outcomes. Implementations must not block for long;
// delivery is fire-and-forget and errors are the notifier's to handle.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls f(ctx, event).
func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

// Notify delivers event to every notifier.
func (m MultiNotifier) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

// LogNotifier writes each outcome as a structured log line.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs event at info level, or error level for failures.
func (n LogNotifier) Notify(ctx context.Context, event Event) {
	attrs := []any{
		"project", event.Run.Project,
		"run_id", event.Run.ID.String(),
		"trigger", string(event.Run.Trigger),
		"status", string(event.Status),
		"has_changes", event.HasChanges,
		"restarted", event.Restarted,
		"duration_ms", event.Run.Duration().Milliseconds(),
	}
	if event.Run.CommitHash != "" {
		attrs = append(attrs, "commit", event.Run.CommitHash)
	}

	if event.Status == StatusFailed {
		n.Logger.ErrorContext(ctx, "deployment_failed", append(attrs, "error", event.Run.Error)...)
		return
	}
	n.Logger.InfoContext(ctx, "deployment_finished", attrs...)
}
