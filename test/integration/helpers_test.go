package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"dployr/internal/gitsync"
)

func requireGit(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// git runs a git command in dir and returns its trimmed output.
func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test User",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test User",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v, output: %s", args, err, output)
	}
	return strings.TrimSpace(string(output))
}

// originRepo creates a repository on branch main with one commit. It plays
// the part of the hosted remote.
func originRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	commit(t, dir, "README.md", "hello", "Initial commit")
	return dir
}

// commit writes name and commits it, returning the new HEAD.
func commit(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	git(t, dir, "add", name)
	git(t, dir, "commit", "-m", message)
	return git(t, dir, "rev-parse", "HEAD")
}

// testEngine returns a sync engine that accepts local paths as remotes.
func testEngine() *gitsync.Engine {
	engine := gitsync.NewEngine(quietLogger())
	engine.URLPolicy = nil
	return engine
}

// connectedProject clones origin into <usersPath>/<owner>/<name>.
func connectedProject(t *testing.T, engine *gitsync.Engine, origin, usersPath, owner, name string) string {
	t.Helper()
	path := filepath.Join(usersPath, owner, name)
	if err := engine.Clone(context.Background(), path, origin, ""); err != nil {
		t.Fatalf("Failed to clone origin: %v", err)
	}
	return path
}

// fakeRestarter stands in for docker compose. When gate is set each restart
// announces itself on entered and blocks until gate is closed.
type fakeRestarter struct {
	mu      sync.Mutex
	calls   []string
	fail    bool
	entered chan string
	gate    chan struct{}
}

func (f *fakeRestarter) Restart(ctx context.Context, projectPath string) error {
	f.mu.Lock()
	f.calls = append(f.calls, projectPath)
	fail, entered, gate := f.fail, f.entered, f.gate
	f.mu.Unlock()

	if entered != nil {
		entered <- projectPath
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("compose up exited with status 1")
	}
	return nil
}

func (f *fakeRestarter) restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
