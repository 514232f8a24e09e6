// Package gitsync keeps a project working tree in sync with its remote
// repository while leaving operator-managed files alone.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dployr/internal/security"
	"dployr/pkg/cmdutil"
	"dployr/pkg/fileutil"

	"github.com/go-git/go-git/v5"
)

const (
	// DefaultCloneTimeout bounds a single clone.
	DefaultCloneTimeout = 120 * time.Second

	// DefaultPullTimeout bounds a single pull.
	DefaultPullTimeout = 60 * time.Second

	// CredentialsFile is the per-project git credential store.
	CredentialsFile = ".git-credentials"
)

var (
	ErrNotRepository     = errors.New("not a git repository")
	ErrAlreadyRepository = errors.New("project is already connected to a repository, disconnect it first")
	ErrTargetNotEmpty    = errors.New("project directory contains files that would be overwritten")
)

// PreservedFiles are operator-managed entries that survive a clone. The
// operator's copy always replaces whatever the repository ships.
var PreservedFiles = []string{"docker-compose.yml", "nginx"}

// upToDateMarkers are what git prints when a pull fetched nothing, in the
// locales seen on deployed hosts.
var upToDateMarkers = []string{"Already up to date", "Already up-to-date", "Bereits aktuell"}

// PullResult describes the outcome of a pull.
type PullResult struct {
	HasChanges bool
	Output     string
	Before     string
	After      string
}

// Engine runs clone, pull and disconnect against project directories.
type Engine struct {
	guard  *security.CommandGuard
	logger *slog.Logger

	CloneTimeout time.Duration
	PullTimeout  time.Duration

	// URLPolicy vets remote URLs before cloning.
	URLPolicy func(string) error
}

// NewEngine creates an engine that shells out to the git binary on PATH.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		guard:        security.NewCommandGuard("git"),
		logger:       logger,
		CloneTimeout: DefaultCloneTimeout,
		PullTimeout:  DefaultPullTimeout,
		URLPolicy:    ValidateRemoteURL,
	}
}

// IsRepository reports whether path holds a .git directory.
func IsRepository(path string) bool {
	return fileutil.DirExists(filepath.Join(path, ".git"))
}

// Clone connects path to remote. The repository is cloned into a sibling
// staging directory, preserved files are copied over from path, and the
// staged tree then replaces path. On failure path is left as it was.
func (e *Engine) Clone(ctx context.Context, path, remote, token string) error {
	if e.URLPolicy != nil {
		if err := e.URLPolicy(remote); err != nil {
			return err
		}
	}
	if token != "" {
		if err := ValidateToken(token); err != nil {
			return err
		}
	}
	if IsRepository(path) {
		return ErrAlreadyRepository
	}
	if err := checkCloneTarget(path); err != nil {
		return err
	}

	cloneURL := remote
	if token != "" {
		var err error
		if cloneURL, err = authenticatedURL(remote, token); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), security.PermDirectory); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	staging := fmt.Sprintf("%s_temp_%d", path, time.Now().UnixNano())
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			e.logger.Warn("staging_cleanup_failed", "path", staging, "error", err)
		}
	}()

	e.logger.Info("git_clone_started", "path", path, "remote", SanitizeURL(remote))

	cmd := []string{"git", "clone", "--quiet", cloneURL, staging}
	if err := e.guard.Validate(cmd); err != nil {
		return fmt.Errorf("git clone rejected: %w", err)
	}
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Timeout:        e.CloneTimeout,
		Env:            []string{"GIT_TERMINAL_PROMPT=0"},
		CombinedOutput: true,
	}, cmd)
	if err != nil {
		return e.cloneError(err, result, token)
	}

	if err := configureRepository(staging, remote, token); err != nil {
		return fmt.Errorf("failed to configure repository: %s", scrub(err.Error(), token))
	}

	if err := preserveInto(path, staging); err != nil {
		return fmt.Errorf("failed to preserve project files: %w", err)
	}

	if err := swapInto(staging, path); err != nil {
		return fmt.Errorf("failed to move repository into place: %w", err)
	}

	e.logger.Info("git_clone_finished", "path", path, "remote", SanitizeURL(remote), "duration_ms", result.Duration.Milliseconds())
	return nil
}

// Pull fetches and merges the tracked branch. HasChanges is derived from
// HEAD before and after the pull; when HEAD cannot be read the output is
// scanned for git's "already up to date" message instead.
func (e *Engine) Pull(ctx context.Context, path string) (*PullResult, error) {
	if !IsRepository(path) {
		return nil, ErrNotRepository
	}

	before, beforeErr := headHash(path)

	cmd := []string{"git", "pull"}
	if err := e.guard.Validate(cmd); err != nil {
		return nil, fmt.Errorf("git pull rejected: %w", err)
	}
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            path,
		Timeout:        e.PullTimeout,
		Env:            []string{"GIT_TERMINAL_PROMPT=0"},
		CombinedOutput: true,
	}, cmd)
	output := cmdutil.ScrubCredentials(result.Text())
	if err != nil {
		if errors.Is(err, cmdutil.ErrTimeout) {
			return nil, fmt.Errorf("git pull: %w", err)
		}
		return nil, fmt.Errorf("git pull failed: %s", output)
	}

	after, afterErr := headHash(path)

	pull := &PullResult{Output: output, Before: before, After: after}
	if beforeErr == nil && afterErr == nil {
		pull.HasChanges = before != after
	} else {
		e.logger.Debug("git_head_unreadable", "path", path, "before_error", beforeErr, "after_error", afterErr)
		pull.HasChanges = !outputUpToDate(output)
	}

	e.logger.Info("git_pull_finished",
		"path", path,
		"has_changes", pull.HasChanges,
		"before", pull.Before,
		"after", pull.After,
	)
	return pull, nil
}

// Disconnect removes the repository metadata and stored credentials. The
// working tree itself is kept. Calling it on an unconnected path is a no-op.
func (e *Engine) Disconnect(path string) error {
	for _, name := range []string{".git", CredentialsFile} {
		if err := os.RemoveAll(filepath.Join(path, name)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	e.logger.Info("git_disconnected", "path", path)
	return nil
}

func (e *Engine) cloneError(err error, result *cmdutil.Result, token string) error {
	if errors.Is(err, cmdutil.ErrTimeout) {
		return fmt.Errorf("git clone: %w", err)
	}
	text := scrub(result.Text(), token)
	if text == "" {
		text = scrub(err.Error(), token)
	}
	return fmt.Errorf("git clone failed: %s", text)
}

// checkCloneTarget allows a missing or empty path, or one holding nothing
// but preserved files.
func checkCloneTarget(path string) error {
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read project directory: %w", err)
	}

	allowed := make(map[string]bool, len(PreservedFiles))
	for _, name := range PreservedFiles {
		allowed[name] = true
	}
	for _, entry := range entries {
		if !allowed[entry.Name()] {
			return fmt.Errorf("%w: %s", ErrTargetNotEmpty, entry.Name())
		}
	}
	return nil
}

// preserveInto copies each preserved entry of path over its counterpart in
// staging.
func preserveInto(path, staging string) error {
	for _, name := range PreservedFiles {
		src := filepath.Join(path, name)
		if !fileutil.PathExists(src) {
			continue
		}
		dst := filepath.Join(staging, name)
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		if err := fileutil.CopyTree(src, dst); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// swapInto replaces path with staging using renames only. The previous
// directory is parked next to path and restored if the final rename fails.
func swapInto(staging, path string) error {
	if !fileutil.PathExists(path) {
		return os.Rename(staging, path)
	}

	parked := fmt.Sprintf("%s_old_%d", path, time.Now().UnixNano())
	if err := os.Rename(path, parked); err != nil {
		return err
	}
	if err := os.Rename(staging, path); err != nil {
		if rerr := os.Rename(parked, path); rerr != nil {
			return fmt.Errorf("%w (restore failed: %v, previous contents at %s)", err, rerr, parked)
		}
		return err
	}
	return os.RemoveAll(parked)
}

func headHash(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func outputUpToDate(output string) bool {
	for _, marker := range upToDateMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

func scrub(s, token string) string {
	var secrets []string
	if token != "" {
		secrets = append(secrets, token)
	}
	return string(cmdutil.SanitizeOutput([]byte(s), secrets))
}
