// Package container starts, stops and inspects user project containers.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"dployr/internal/security"
	"dployr/pkg/cmdutil"
)

// Labels set on every generated compose service.
const (
	LabelUser    = "com.webserver.user"
	LabelProject = "com.webserver.project"
)

// DefaultComposeTimeout bounds a single compose invocation. Image pulls on
// first start dominate it.
const DefaultComposeTimeout = 5 * time.Minute

// Compose drives projects through the docker compose CLI.
//
// dployr may itself run in a container that sees the users tree at a
// different path than the Docker daemon does. Paths under UsersPath are
// rewritten to HostUsersPath before they are handed to compose.
type Compose struct {
	guard         *security.CommandGuard
	logger        *slog.Logger
	usersPath     string
	hostUsersPath string

	Timeout time.Duration
}

// NewCompose creates a compose runner. hostUsersPath may be empty when the
// daemon and dployr share a filesystem view.
func NewCompose(usersPath, hostUsersPath string, logger *slog.Logger) *Compose {
	return &Compose{
		guard:         security.NewCommandGuard("docker"),
		logger:        logger,
		usersPath:     filepath.Clean(usersPath),
		hostUsersPath: hostUsersPath,
		Timeout:       DefaultComposeTimeout,
	}
}

// HostPath translates a local project path into the daemon's view.
func (c *Compose) HostPath(projectPath string) string {
	cleaned := filepath.Clean(projectPath)
	if c.hostUsersPath == "" {
		return cleaned
	}
	if cleaned == c.usersPath {
		return filepath.Clean(c.hostUsersPath)
	}
	if rest, ok := strings.CutPrefix(cleaned, c.usersPath+string(filepath.Separator)); ok {
		return filepath.Join(c.hostUsersPath, rest)
	}
	return cleaned
}

// Start brings the project up in the background.
func (c *Compose) Start(ctx context.Context, projectPath string) error {
	return c.run(ctx, projectPath, "up", "-d")
}

// Stop tears the project down.
func (c *Compose) Stop(ctx context.Context, projectPath string) error {
	return c.run(ctx, projectPath, "down")
}

// Restart restarts the project's containers.
func (c *Compose) Restart(ctx context.Context, projectPath string) error {
	return c.run(ctx, projectPath, "restart")
}

// Command returns the argv for a compose action on projectPath.
func (c *Compose) Command(projectPath string, action ...string) []string {
	hostPath := c.HostPath(projectPath)
	cmd := []string{
		"docker", "compose",
		"-f", filepath.Join(hostPath, "docker-compose.yml"),
		"--project-directory", hostPath,
	}
	return append(cmd, action...)
}

func (c *Compose) run(ctx context.Context, projectPath string, action ...string) error {
	cmd := c.Command(projectPath, action...)
	if err := c.guard.Validate(cmd); err != nil {
		return fmt.Errorf("compose command rejected: %w", err)
	}

	c.logger.Info("compose_command", "command", cmdutil.FormatCommand(cmd))

	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Timeout:        c.Timeout,
		CombinedOutput: true,
	}, cmd)
	if err != nil {
		if errors.Is(err, cmdutil.ErrTimeout) {
			return fmt.Errorf("docker compose %s: %w", action[0], err)
		}
		output := result.Text()
		if output == "" {
			output = err.Error()
		}
		return fmt.Errorf("docker compose %s failed: %s", action[0], output)
	}

	c.logger.Info("compose_finished",
		"action", action[0],
		"path", projectPath,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return nil
}
