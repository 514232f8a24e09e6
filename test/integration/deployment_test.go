package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dployr/internal/deployment"
	"dployr/internal/history"
	"dployr/internal/project"
)

// TestEndToEndDeployment drives the coordinator through a real git pull:
// no-op run, run with new commits, then a failing restart.
func TestEndToEndDeployment(t *testing.T) {
	requireGit(t)

	origin := originRepo(t)
	usersPath := t.TempDir()
	engine := testEngine()
	path := connectedProject(t, engine, origin, usersPath, "alice", "blog")

	hist, err := history.NewHistory(filepath.Join(t.TempDir(), "deployments.db"))
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	defer hist.Close()

	restarter := &fakeRestarter{}
	notifier := deployment.MultiNotifier{
		deployment.LogNotifier{Logger: quietLogger()},
		history.Recorder{History: hist, Logger: quietLogger()},
	}
	coordinator := deployment.NewCoordinator(engine, restarter, notifier, quietLogger())

	proj := &project.Project{Owner: "alice", Name: "blog", Path: path, Branch: "main"}
	ctx := context.Background()

	t.Run("NoChanges", func(t *testing.T) {
		result := coordinator.ExecuteDeploy(ctx, proj, deployment.TriggerManual, "")
		if result.Status != deployment.StatusSuccess {
			t.Fatalf("Expected success, got %s: %v", result.Status, result.Err)
		}
		if result.HasChanges || result.Restarted {
			t.Errorf("Expected no changes and no restart, got %+v", result)
		}
		if restarter.restarts() != 0 {
			t.Errorf("Expected no restart, got %d", restarter.restarts())
		}
		if result.Run.State != deployment.StateSucceeded {
			t.Errorf("Expected state succeeded, got %s", result.Run.State)
		}
	})

	t.Run("NewCommit", func(t *testing.T) {
		head := commit(t, origin, "index.html", "<h1>v2</h1>", "Add index")

		result := coordinator.ExecuteDeploy(ctx, proj, deployment.TriggerWebhook, head[:7])
		if result.Status != deployment.StatusSuccess {
			t.Fatalf("Expected success, got %s: %v", result.Status, result.Err)
		}
		if !result.HasChanges || !result.Restarted {
			t.Errorf("Expected changes and restart, got %+v", result)
		}
		if restarter.restarts() != 1 {
			t.Errorf("Expected one restart, got %d", restarter.restarts())
		}
		if result.Run.CommitHash != head {
			t.Errorf("Expected run commit %s, got %s", head, result.Run.CommitHash)
		}
		if _, err := os.Stat(filepath.Join(path, "index.html")); err != nil {
			t.Errorf("Pulled file missing: %v", err)
		}
	})

	t.Run("RestartFailure", func(t *testing.T) {
		commit(t, origin, "app.js", "console.log(3)", "Add app")
		restarter.mu.Lock()
		restarter.fail = true
		restarter.mu.Unlock()

		result := coordinator.ExecuteDeploy(ctx, proj, deployment.TriggerWebhook, "")
		if result.Status != deployment.StatusFailed {
			t.Fatalf("Expected failure, got %s", result.Status)
		}
		if !strings.Contains(result.Run.Error, "restart failed") {
			t.Errorf("Expected restart failure message, got %q", result.Run.Error)
		}
		if _, held := coordinator.Active(proj); held {
			t.Error("Claim still held after failed run")
		}
	})

	t.Run("HistoryRecorded", func(t *testing.T) {
		records, err := hist.GetDeploymentHistory(ctx, "alice/blog", 10)
		if err != nil {
			t.Fatalf("Failed to read history: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(records))
		}
		// Newest first.
		if records[0].Status != "failed" || records[0].ErrorMessage == nil {
			t.Errorf("Expected failed record with error, got %+v", records[0])
		}
		if records[1].Status != "success" || !records[1].HasChanges || records[1].Trigger != "webhook" {
			t.Errorf("Expected webhook success with changes, got %+v", records[1])
		}
		if records[2].Status != "success" || records[2].HasChanges || records[2].Trigger != "manual" {
			t.Errorf("Expected manual no-op success, got %+v", records[2])
		}
	})
}

// TestPullFailureReported checks that a project whose directory is not a
// repository fails cleanly and releases its claim.
func TestPullFailureReported(t *testing.T) {
	requireGit(t)

	restarter := &fakeRestarter{}
	coordinator := deployment.NewCoordinator(testEngine(), restarter, nil, quietLogger())
	proj := &project.Project{Owner: "alice", Name: "empty", Path: t.TempDir(), Branch: "main"}

	result := coordinator.ExecuteDeploy(context.Background(), proj, deployment.TriggerManual, "")
	if result.Status != deployment.StatusFailed {
		t.Fatalf("Expected failure, got %s", result.Status)
	}
	if restarter.restarts() != 0 {
		t.Error("Restart must not run after a failed pull")
	}
	if coordinator.Claims().Held("alice/empty") {
		t.Error("Claim still held after failed pull")
	}
}

// TestConcurrentDeployments checks single-flight per project while other
// projects deploy in parallel.
func TestConcurrentDeployments(t *testing.T) {
	requireGit(t)

	usersPath := t.TempDir()
	engine := testEngine()

	blogOrigin := originRepo(t)
	shopOrigin := originRepo(t)
	blog := &project.Project{Owner: "alice", Name: "blog", Branch: "main",
		Path: connectedProject(t, engine, blogOrigin, usersPath, "alice", "blog")}
	shop := &project.Project{Owner: "bob", Name: "shop", Branch: "main",
		Path: connectedProject(t, engine, shopOrigin, usersPath, "bob", "shop")}

	commit(t, blogOrigin, "index.html", "v2", "Update blog")
	commit(t, shopOrigin, "index.html", "v2", "Update shop")

	restarter := &fakeRestarter{
		entered: make(chan string, 2),
		gate:    make(chan struct{}),
	}
	coordinator := deployment.NewCoordinator(engine, restarter, nil, quietLogger())
	ctx := context.Background()

	done := make(chan deployment.Result, 1)
	go func() {
		done <- coordinator.ExecuteDeploy(ctx, blog, deployment.TriggerWebhook, "")
	}()

	select {
	case <-restarter.entered:
	case <-time.After(30 * time.Second):
		t.Fatal("First deployment never reached restart")
	}

	run, active := coordinator.Active(blog)
	if !active || run.State != deployment.StateRunning {
		t.Fatalf("Expected running blog deployment, got %+v (active=%v)", run, active)
	}

	// Same project: skipped without touching the working tree.
	skipped := coordinator.ExecuteDeploy(ctx, blog, deployment.TriggerWebhook, "")
	if skipped.Status != deployment.StatusSkipped {
		t.Errorf("Expected skipped, got %s", skipped.Status)
	}
	if skipped.Run.State != deployment.StateSkipped {
		t.Errorf("Expected skipped state, got %s", skipped.Run.State)
	}

	// Another project is not blocked by the claim on the first.
	shopDone := make(chan deployment.Result, 1)
	go func() {
		shopDone <- coordinator.ExecuteDeploy(ctx, shop, deployment.TriggerWebhook, "")
	}()
	select {
	case <-restarter.entered:
	case <-time.After(30 * time.Second):
		t.Fatal("Second project never reached restart")
	}

	close(restarter.gate)

	for _, ch := range []chan deployment.Result{done, shopDone} {
		select {
		case result := <-ch:
			if result.Status != deployment.StatusSuccess || !result.Restarted {
				t.Errorf("Expected restarted success, got %+v", result)
			}
		case <-time.After(30 * time.Second):
			t.Fatal("Deployment did not finish")
		}
	}

	if restarter.restarts() != 2 {
		t.Errorf("Expected 2 restarts, got %d", restarter.restarts())
	}
	if _, active := coordinator.Active(blog); active {
		t.Error("Claim still held after completion")
	}
}
