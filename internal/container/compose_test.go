package container

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dployr/pkg/cmdutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDocker puts a docker stub on PATH that records its arguments and
// runs body.
func fakeDocker(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return argsFile
}

func TestHostPath(t *testing.T) {
	c := NewCompose("/app/users", "/opt/dployr/users", quietLogger())

	tests := []struct {
		in   string
		want string
	}{
		{"/app/users/alice/blog", "/opt/dployr/users/alice/blog"},
		{"/app/users", "/opt/dployr/users"},
		{"/app/users-other/alice", "/app/users-other/alice"},
		{"/srv/elsewhere", "/srv/elsewhere"},
		{"/app/users/alice/../bob/site", "/opt/dployr/users/bob/site"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.HostPath(tt.in), tt.in)
	}

	same := NewCompose("/app/users", "", quietLogger())
	assert.Equal(t, "/app/users/alice/blog", same.HostPath("/app/users/alice/blog"))
}

func TestComposeCommand(t *testing.T) {
	c := NewCompose("/app/users", "/opt/dployr/users", quietLogger())

	got := c.Command("/app/users/alice/blog", "up", "-d")
	want := []string{
		"docker", "compose",
		"-f", "/opt/dployr/users/alice/blog/docker-compose.yml",
		"--project-directory", "/opt/dployr/users/alice/blog",
		"up", "-d",
	}
	assert.Equal(t, want, got)
}

func TestComposeActions(t *testing.T) {
	argsFile := fakeDocker(t, "exit 0")
	c := NewCompose("/app/users", "/opt/dployr/users", quietLogger())

	tests := []struct {
		name   string
		run    func(context.Context, string) error
		suffix string
	}{
		{"start", c.Start, "up -d"},
		{"stop", c.Stop, "down"},
		{"restart", c.Restart, "restart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.run(context.Background(), "/app/users/alice/blog"))

			args, err := os.ReadFile(argsFile)
			require.NoError(t, err)
			line := strings.TrimSpace(string(args))
			assert.True(t, strings.HasPrefix(line, "compose -f /opt/dployr/users/alice/blog/docker-compose.yml"), line)
			assert.True(t, strings.HasSuffix(line, tt.suffix), line)
		})
	}
}

func TestComposeFailureIncludesOutput(t *testing.T) {
	fakeDocker(t, "echo 'no such service: web' >&2\nexit 1")
	c := NewCompose("/app/users", "", quietLogger())

	err := c.Restart(context.Background(), "/app/users/alice/blog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such service: web")
	assert.False(t, errors.Is(err, cmdutil.ErrTimeout))
}

func TestComposeTimeout(t *testing.T) {
	fakeDocker(t, "exec sleep 5")
	c := NewCompose("/app/users", "", quietLogger())
	c.Timeout = 100 * time.Millisecond

	err := c.Start(context.Background(), "/app/users/alice/blog")
	assert.ErrorIs(t, err, cmdutil.ErrTimeout)
}

func TestComposeRejectsMetacharacters(t *testing.T) {
	c := NewCompose("/app/users", "", quietLogger())

	err := c.Start(context.Background(), "/app/users/alice/blog;rm -rf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}
