package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ErrNotOwned is returned when a container id does not belong to the user
// acting on it.
var ErrNotOwned = errors.New("container not found for this user")

// API is the subset of the Docker Engine client used here.
type API interface {
	ContainerList(ctx context.Context, options dockercontainer.ListOptions) ([]dockercontainer.Summary, error)
	ContainerStart(ctx context.Context, containerID string, options dockercontainer.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options dockercontainer.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options dockercontainer.StopOptions) error
	ContainerLogs(ctx context.Context, containerID string, options dockercontainer.LogsOptions) (io.ReadCloser, error)
	Close() error
}

// Container is a user container as shown to operators.
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Project string `json:"project,omitempty"`
}

// Docker lists and controls individual containers through the Engine API.
type Docker struct {
	api    API
	logger *slog.Logger
}

// NewDocker connects using the standard DOCKER_* environment.
func NewDocker(logger *slog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewDockerWithAPI(cli, logger), nil
}

// NewDockerWithAPI wraps an existing client.
func NewDockerWithAPI(api API, logger *slog.Logger) *Docker {
	return &Docker{api: api, logger: logger}
}

// Close releases the underlying client.
func (d *Docker) Close() error {
	return d.api.Close()
}

// UserContainers returns every container, running or not, that belongs to
// owner. A container carrying the owner label belongs to that user alone;
// unlabeled containers are matched by the "<owner>-" name prefix.
func (d *Docker) UserContainers(ctx context.Context, owner string) ([]Container, error) {
	summaries, err := d.api.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var owned []Container
	for _, s := range summaries {
		if ownedBy(s, owner) {
			owned = append(owned, toContainer(s))
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].Name < owned[j].Name })
	return owned, nil
}

// ProjectContainers returns owner's containers named composeName or prefixed
// with "<composeName>-".
func (d *Docker) ProjectContainers(ctx context.Context, owner, composeName string) ([]Container, error) {
	summaries, err := d.api.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var matched []Container
	for _, s := range summaries {
		if !ownedBy(s, owner) {
			continue
		}
		name := primaryName(s)
		if name == composeName || strings.HasPrefix(name, composeName+"-") {
			matched = append(matched, toContainer(s))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, nil
}

// Start starts one of owner's containers.
func (d *Docker) Start(ctx context.Context, owner, id string) error {
	full, err := d.resolve(ctx, owner, id)
	if err != nil {
		return err
	}
	d.logger.Info("container_start", "owner", owner, "container", id)
	return d.api.ContainerStart(ctx, full, dockercontainer.StartOptions{})
}

// Stop stops one of owner's containers.
func (d *Docker) Stop(ctx context.Context, owner, id string) error {
	full, err := d.resolve(ctx, owner, id)
	if err != nil {
		return err
	}
	d.logger.Info("container_stop", "owner", owner, "container", id)
	return d.api.ContainerStop(ctx, full, dockercontainer.StopOptions{})
}

// Restart restarts one of owner's containers.
func (d *Docker) Restart(ctx context.Context, owner, id string) error {
	full, err := d.resolve(ctx, owner, id)
	if err != nil {
		return err
	}
	d.logger.Info("container_restart", "owner", owner, "container", id)
	return d.api.ContainerRestart(ctx, full, dockercontainer.StopOptions{})
}

// Logs returns the last lines of a container's combined output with
// timestamps. Blank lines are dropped.
func (d *Docker) Logs(ctx context.Context, owner, id string, lines int) (string, error) {
	full, err := d.resolve(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = 100
	}

	rc, err := d.api.ContainerLogs(ctx, full, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
		Timestamps: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}

	// Non-TTY containers multiplex stdout and stderr behind 8-byte frame
	// headers; TTY containers send the stream as is.
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, bytes.NewReader(raw)); err != nil {
		out.Reset()
		out.Write(raw)
	}

	var kept []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// resolve maps a (possibly abbreviated) id to a full id owned by owner.
func (d *Docker) resolve(ctx context.Context, owner, id string) (string, error) {
	if id == "" {
		return "", ErrNotOwned
	}
	summaries, err := d.api.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	for _, s := range summaries {
		if !strings.HasPrefix(s.ID, id) && primaryName(s) != id {
			continue
		}
		if ownedBy(s, owner) {
			return s.ID, nil
		}
	}
	return "", ErrNotOwned
}

func ownedBy(s dockercontainer.Summary, owner string) bool {
	if label, ok := s.Labels[LabelUser]; ok {
		return label == owner
	}
	return strings.HasPrefix(primaryName(s), owner+"-")
}

func primaryName(s dockercontainer.Summary) string {
	if len(s.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(s.Names[0], "/")
}

func toContainer(s dockercontainer.Summary) Container {
	id := s.ID
	if len(id) > 12 {
		id = id[:12]
	}
	return Container{
		ID:      id,
		Name:    primaryName(s),
		Image:   s.Image,
		State:   string(s.State),
		Status:  s.Status,
		Project: s.Labels[LabelProject],
	}
}
