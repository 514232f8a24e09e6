package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dployr/internal/gitsync"
	"dployr/internal/project"
	"dployr/pkg/cmdutil"

	"github.com/google/uuid"
)

// Syncer pulls the latest commits into a project working tree.
type Syncer interface {
	Pull(ctx context.Context, path string) (*gitsync.PullResult, error)
}

// Restarter restarts the containers of a project.
type Restarter interface {
	Restart(ctx context.Context, projectPath string) error
}

// Coordinator runs deployments with at most one in flight per project.
// Different projects deploy in parallel.
type Coordinator struct {
	claims   *ClaimRegistry
	syncer   Syncer
	runtime  Restarter
	notifier Notifier
	logger   *slog.Logger
	wg       sync.WaitGroup
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClaims makes the coordinator take its claims from r, typically a
// registry from NewSharedClaimRegistry so that runs started by other
// processes are respected.
func WithClaims(r *ClaimRegistry) Option {
	return func(c *Coordinator) { c.claims = r }
}

// NewCoordinator creates a coordinator. notifier may be nil. Without
// WithClaims the claims only cover runs started through this coordinator.
func NewCoordinator(syncer Syncer, runtime Restarter, notifier Notifier, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		claims:   NewClaimRegistry(),
		syncer:   syncer,
		runtime:  runtime,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claims exposes the claim registry, mainly so callers can inspect or
// pre-claim a project.
func (c *Coordinator) Claims() *ClaimRegistry {
	return c.claims
}

// Active returns a snapshot of the in-flight run for a project.
func (c *Coordinator) Active(p *project.Project) (Run, bool) {
	return c.claims.snapshot(p.Key())
}

// Dispatch starts ExecuteDeploy on its own goroutine and returns immediately.
// The run keeps the values of ctx but not its cancellation, so it outlives
// the HTTP request that triggered it.
func (c *Coordinator) Dispatch(ctx context.Context, p *project.Project, trigger Trigger, commit string) {
	runCtx := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.ExecuteDeploy(runCtx, p, trigger, commit)
	}()
}

// Wait blocks until every dispatched run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// ExecuteDeploy pulls the project and restarts it when the pull brought in
// changes. A project that already has a run in flight is skipped without
// touching the filesystem. The claim is always released before returning.
func (c *Coordinator) ExecuteDeploy(ctx context.Context, p *project.Project, trigger Trigger, commit string) (result Result) {
	key := p.Key()
	run := &Run{
		ID:         uuid.New(),
		Project:    key,
		Branch:     p.Branch,
		State:      StatePending,
		Trigger:    trigger,
		StartedAt:  c.now(),
		CommitHash: commit,
	}

	token, ok := c.claims.TryClaim(key, run)
	if !ok {
		c.logger.Warn("deployment_skipped",
			"project", key,
			"trigger", string(trigger),
			"reason", "deployment already in progress",
		)
		skipped := *run
		skipped.State = StateSkipped
		finished := c.now()
		skipped.FinishedAt = &finished
		result = Result{Status: StatusSkipped, Run: skipped}
		c.notify(ctx, result)
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("deployment panicked: %v", r)
			result = c.finish(key, token, run, Result{Status: StatusFailed, Err: err})
		}
		c.claims.Release(key, token)
		c.notify(ctx, result)
	}()

	c.claims.update(key, token, func(r *Run) { r.State = StateRunning })
	c.logger.Info("deployment_started",
		"project", key,
		"run_id", run.ID.String(),
		"trigger", string(trigger),
		"path", p.Path,
	)

	pull, err := c.syncer.Pull(ctx, p.Path)
	if err != nil {
		return c.finish(key, token, run, Result{Status: StatusFailed, Err: err})
	}
	if pull.After != "" {
		c.claims.update(key, token, func(r *Run) { r.CommitHash = pull.After })
	}

	if !pull.HasChanges {
		c.logger.Info("deployment_no_changes", "project", key, "run_id", run.ID.String())
		return c.finish(key, token, run, Result{Status: StatusSuccess})
	}

	if err := c.runtime.Restart(ctx, p.Path); err != nil {
		return c.finish(key, token, run, Result{
			Status:     StatusFailed,
			HasChanges: true,
			Err:        fmt.Errorf("restart failed: %w", err),
		})
	}

	return c.finish(key, token, run, Result{Status: StatusSuccess, HasChanges: true, Restarted: true})
}

// finish stamps the terminal state on the run and copies it into result.
func (c *Coordinator) finish(key string, token uuid.UUID, run *Run, result Result) Result {
	finished := c.now()
	c.claims.update(key, token, func(r *Run) {
		r.FinishedAt = &finished
		if result.Status == StatusFailed {
			r.State = StateFailed
			r.Error = cmdutil.ScrubCredentials(result.Err.Error())
		} else {
			r.State = StateSucceeded
		}
		result.Run = *r
	})
	if result.Run.ID == uuid.Nil {
		result.Run = *run
	}
	return result
}

func (c *Coordinator) notify(ctx context.Context, result Result) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, Event{
		Status:     result.Status,
		Run:        result.Run,
		HasChanges: result.HasChanges,
		Restarted:  result.Restarted,
	})
}
