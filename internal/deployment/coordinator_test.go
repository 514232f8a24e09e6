package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dployr/internal/gitsync"
	"dployr/internal/project"
)

type fakeSyncer struct {
	calls   int32
	result  *gitsync.PullResult
	err     error
	block   chan struct{}
	started chan struct{}
	panics  bool
}

func (f *fakeSyncer) Pull(ctx context.Context, path string) (*gitsync.PullResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

type fakeRuntime struct {
	calls int32
	err   error
}

func (f *fakeRuntime) Restart(ctx context.Context, projectPath string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ctx context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) all() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testProject() *project.Project {
	return &project.Project{Owner: "alice", Name: "site", Path: "/srv/users/alice/site", Branch: "main"}
}

func TestExecuteDeploy_ChangesRestart(t *testing.T) {
	syncer := &fakeSyncer{result: &gitsync.PullResult{HasChanges: true, Before: "aaa", After: "bbb"}}
	runtime := &fakeRuntime{}
	notifier := &recordingNotifier{}
	c := NewCoordinator(syncer, runtime, notifier, testLogger())

	result := c.ExecuteDeploy(context.Background(), testProject(), TriggerWebhook, "abc1234")

	if result.Status != StatusSuccess {
		t.Fatalf("Expected success, got %q (err: %v)", result.Status, result.Err)
	}
	if !result.HasChanges || !result.Restarted {
		t.Error("Expected HasChanges and Restarted")
	}
	if runtime.calls != 1 {
		t.Errorf("Expected 1 restart, got %d", runtime.calls)
	}
	if result.Run.State != StateSucceeded {
		t.Errorf("Expected state %q, got %q", StateSucceeded, result.Run.State)
	}
	if result.Run.CommitHash != "bbb" {
		t.Errorf("Expected commit from pull, got %q", result.Run.CommitHash)
	}
	if result.Run.FinishedAt == nil {
		t.Error("Expected FinishedAt to be set")
	}
	if c.Claims().Held("alice/site") {
		t.Error("Claim should be released after the run")
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Status != StatusSuccess {
		t.Errorf("Expected one success event, got %+v", events)
	}
}

func TestExecuteDeploy_NoChangesSkipsRestart(t *testing.T) {
	syncer := &fakeSyncer{result: &gitsync.PullResult{HasChanges: false}}
	runtime := &fakeRuntime{}
	c := NewCoordinator(syncer, runtime, nil, testLogger())

	result := c.ExecuteDeploy(context.Background(), testProject(), TriggerManual, "")

	if result.Status != StatusSuccess {
		t.Fatalf("Expected success, got %q", result.Status)
	}
	if result.HasChanges || result.Restarted {
		t.Error("Expected no changes and no restart")
	}
	if runtime.calls != 0 {
		t.Errorf("Restart should not be called, got %d calls", runtime.calls)
	}
}

func TestExecuteDeploy_PullFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("fatal: could not read from https://ghp_secret@github.com/alice/site")}
	runtime := &fakeRuntime{}
	notifier := &recordingNotifier{}
	c := NewCoordinator(syncer, runtime, notifier, testLogger())

	result := c.ExecuteDeploy(context.Background(), testProject(), TriggerWebhook, "")

	if result.Status != StatusFailed {
		t.Fatalf("Expected failed, got %q", result.Status)
	}
	if result.Err == nil {
		t.Error("Expected an error")
	}
	if strings.Contains(result.Run.Error, "ghp_secret") {
		t.Errorf("Run error leaks credentials: %q", result.Run.Error)
	}
	if runtime.calls != 0 {
		t.Error("Restart should not run after a failed pull")
	}
	if c.Claims().Held("alice/site") {
		t.Error("Claim should be released after a failure")
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Status != StatusFailed {
		t.Errorf("Expected one failed event, got %+v", events)
	}
}

func TestExecuteDeploy_RestartFailure(t *testing.T) {
	syncer := &fakeSyncer{result: &gitsync.PullResult{HasChanges: true}}
	runtime := &fakeRuntime{err: errors.New("compose exited 1")}
	c := NewCoordinator(syncer, runtime, nil, testLogger())

	result := c.ExecuteDeploy(context.Background(), testProject(), TriggerWebhook, "")

	if result.Status != StatusFailed {
		t.Fatalf("Expected failed, got %q", result.Status)
	}
	if !result.HasChanges || result.Restarted {
		t.Error("Expected HasChanges without Restarted")
	}
	if !strings.Contains(result.Run.Error, "restart failed") {
		t.Errorf("Unexpected run error %q", result.Run.Error)
	}
}

func TestExecuteDeploy_PanicReleasesClaim(t *testing.T) {
	syncer := &fakeSyncer{panics: true}
	c := NewCoordinator(syncer, &fakeRuntime{}, nil, testLogger())

	result := c.ExecuteDeploy(context.Background(), testProject(), TriggerWebhook, "")

	if result.Status != StatusFailed {
		t.Errorf("Expected failed, got %q", result.Status)
	}
	if c.Claims().Held("alice/site") {
		t.Error("Claim should be released after a panic")
	}
}

func TestExecuteDeploy_SkipsWhileInFlight(t *testing.T) {
	syncer := &fakeSyncer{
		result:  &gitsync.PullResult{HasChanges: true},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	runtime := &fakeRuntime{}
	notifier := &recordingNotifier{}
	c := NewCoordinator(syncer, runtime, notifier, testLogger())
	p := testProject()

	c.Dispatch(context.Background(), p, TriggerWebhook, "")
	<-syncer.started

	active, ok := c.Active(p)
	if !ok {
		t.Fatal("Expected an active run")
	}
	if active.State != StateRunning {
		t.Errorf("Expected active state %q, got %q", StateRunning, active.State)
	}

	second := c.ExecuteDeploy(context.Background(), p, TriggerManual, "")
	if second.Status != StatusSkipped {
		t.Errorf("Expected skipped, got %q", second.Status)
	}

	close(syncer.block)
	c.Wait()

	if syncer.calls != 1 {
		t.Errorf("Expected 1 pull, got %d", syncer.calls)
	}
	if runtime.calls != 1 {
		t.Errorf("Expected 1 restart, got %d", runtime.calls)
	}
	if _, ok := c.Active(p); ok {
		t.Error("Expected no active run after Wait")
	}

	var skipped, succeeded int
	for _, e := range notifier.all() {
		switch e.Status {
		case StatusSkipped:
			skipped++
		case StatusSuccess:
			succeeded++
		}
	}
	if skipped != 1 || succeeded != 1 {
		t.Errorf("Expected 1 skipped and 1 success event, got %d and %d", skipped, succeeded)
	}
}

func TestExecuteDeploy_ConcurrentSingleFlight(t *testing.T) {
	syncer := &fakeSyncer{result: &gitsync.PullResult{}, block: make(chan struct{})}
	c := NewCoordinator(syncer, &fakeRuntime{}, nil, testLogger())
	p := testProject()

	const goroutines = 20
	var skipped int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ExecuteDeploy(context.Background(), p, TriggerWebhook, "").Status == StatusSkipped {
				atomic.AddInt32(&skipped, 1)
			}
		}()
	}

	// Let the losers observe the held claim before the winner finishes.
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&skipped) < goroutines-1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(syncer.block)
	wg.Wait()

	if syncer.calls != 1 {
		t.Errorf("Expected exactly 1 pull, got %d", syncer.calls)
	}
	if skipped != goroutines-1 {
		t.Errorf("Expected %d skipped runs, got %d", goroutines-1, skipped)
	}
}

func TestExecuteDeploy_DifferentProjectsRunInParallel(t *testing.T) {
	syncer := &fakeSyncer{
		result:  &gitsync.PullResult{},
		block:   make(chan struct{}),
		started: make(chan struct{}, 2),
	}
	c := NewCoordinator(syncer, &fakeRuntime{}, nil, testLogger())

	a := testProject()
	b := &project.Project{Owner: "bob", Name: "api", Path: "/srv/users/bob/api", Branch: "main"}

	c.Dispatch(context.Background(), a, TriggerWebhook, "")
	c.Dispatch(context.Background(), b, TriggerWebhook, "")

	for i := 0; i < 2; i++ {
		select {
		case <-syncer.started:
		case <-time.After(5 * time.Second):
			t.Fatal("Both projects should pull concurrently")
		}
	}

	close(syncer.block)
	c.Wait()
}

func TestExecuteDeploy_ManualSkippedWhileOtherProcessDeploys(t *testing.T) {
	lockDir := t.TempDir()
	serverClaims, err := NewSharedClaimRegistry(lockDir)
	if err != nil {
		t.Fatalf("NewSharedClaimRegistry failed: %v", err)
	}
	cliClaims, err := NewSharedClaimRegistry(lockDir)
	if err != nil {
		t.Fatalf("NewSharedClaimRegistry failed: %v", err)
	}

	webhookSyncer := &fakeSyncer{
		result:  &gitsync.PullResult{HasChanges: true},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	manualSyncer := &fakeSyncer{result: &gitsync.PullResult{HasChanges: true}}
	server := NewCoordinator(webhookSyncer, &fakeRuntime{}, nil, testLogger(), WithClaims(serverClaims))
	cli := NewCoordinator(manualSyncer, &fakeRuntime{}, nil, testLogger(), WithClaims(cliClaims))
	p := testProject()

	server.Dispatch(context.Background(), p, TriggerWebhook, "abc123")
	<-webhookSyncer.started

	result := cli.ExecuteDeploy(context.Background(), p, TriggerManual, "")
	if result.Status != StatusSkipped {
		t.Errorf("Expected manual deploy to be skipped, got %q", result.Status)
	}
	if manualSyncer.calls != 0 {
		t.Errorf("Manual deploy should not pull while the webhook run holds the claim, got %d pulls", manualSyncer.calls)
	}

	close(webhookSyncer.block)
	server.Wait()

	result = cli.ExecuteDeploy(context.Background(), p, TriggerManual, "")
	if result.Status != StatusSuccess {
		t.Errorf("Expected manual deploy to run after the webhook run, got %q", result.Status)
	}
	if manualSyncer.calls != 1 {
		t.Errorf("Expected 1 manual pull, got %d", manualSyncer.calls)
	}
}
