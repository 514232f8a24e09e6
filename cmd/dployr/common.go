package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dployr/internal/deployment"
	"dployr/internal/project"
	"dployr/internal/security"
	"dployr/pkg/fileutil"
)

const configFileName = "dployr.yaml"

// environment is the loaded configuration shared by every command.
type environment struct {
	ConfigPath    string
	Registry      *project.Registry
	UsersPath     string
	HostUsersPath string
}

// loadEnvironment reads the project directory. When required is false and no
// config file exists, an empty registry with default paths is returned.
func loadEnvironment(required bool) (*environment, error) {
	env := &environment{
		Registry:  project.NewRegistry(map[string]*project.Project{}),
		UsersPath: project.DefaultUsersPath,
	}

	path := configFile
	if path == "" {
		found, err := fileutil.SearchPaths(fileutil.DefaultConfigPaths(configFileName))
		if err != nil && required {
			return nil, fmt.Errorf("%w; use --config to specify one", err)
		}
		path = found
	}

	if path != "" {
		cfg, projects, err := project.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		env.ConfigPath = path
		env.Registry = project.NewRegistry(projects)
		env.UsersPath = cfg.UsersPath
		env.HostUsersPath = cfg.HostUsersPath
	}

	env.UsersPath = getEnvOrDefault("USERS_PATH", env.UsersPath)
	env.HostUsersPath = getEnvOrDefault("HOST_USERS_PATH", env.HostUsersPath)
	return env, nil
}

// projectPath returns the configured path of owner/name, or the
// conventional location under the users root for unregistered projects.
func (e *environment) projectPath(owner, name string) string {
	if p, err := e.Registry.Get(owner, name); err == nil {
		return p.Path
	}
	return project.ProjectPath(e.UsersPath, owner, name)
}

// splitProjectRef parses and validates "owner/name".
func splitProjectRef(ref string) (string, string, error) {
	owner, name, ok := strings.Cut(ref, "/")
	if !ok {
		return "", "", fmt.Errorf("project must be given as <owner>/<name>, got %q", ref)
	}
	if err := security.ValidateUsername(owner); err != nil {
		return "", "", err
	}
	if err := security.ValidateProjectName(name); err != nil {
		return "", "", err
	}
	return owner, name, nil
}

// sharedClaims opens the claim registry backed by --lock-dir. Every command
// that pulls, clones or restarts a project claims it here first.
func sharedClaims() (*deployment.ClaimRegistry, error) {
	return deployment.NewSharedClaimRegistry(lockDir)
}

// newLogger builds the JSON logger used by every command.
func newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New("log level must be one of debug, info, warn, error")
	}
	return level, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
