package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dployr/internal/security"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBranch    = "main"
	DefaultUsersPath = "/opt/dployr/users"
)

// LoadConfig loads and validates the configuration from a YAML file
func LoadConfig(configPath string) (*Config, map[string]*Project, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig validates raw YAML and builds the project set keyed by "owner/name".
func ParseConfig(data []byte) (*Config, map[string]*Project, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if config.UsersPath == "" {
		config.UsersPath = DefaultUsersPath
	}
	if !filepath.IsAbs(config.UsersPath) {
		return nil, nil, fmt.Errorf("users_path must be absolute, got '%s'", config.UsersPath)
	}
	if config.Projects == nil {
		config.Projects = make(map[string]ProjectConfig)
	}

	keys := make([]string, 0, len(config.Projects))
	for key := range config.Projects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	projects := make(map[string]*Project, len(keys))
	webhookOwners := make(map[int64]string)

	for _, key := range keys {
		projectConfig := config.Projects[key]
		if errs := ValidateProjectConfig(key, projectConfig); len(errs) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for project '%s':\n%s",
				key, strings.Join(errs, "\n"))
		}

		owner, name, _ := strings.Cut(key, "/")

		branch := projectConfig.Branch
		if branch == "" {
			branch = DefaultBranch
		}

		projectPath := projectConfig.Path
		if projectPath == "" {
			projectPath = ProjectPath(config.UsersPath, owner, name)
		}

		p := &Project{
			Owner:  owner,
			Name:   name,
			Path:   filepath.Clean(projectPath),
			Branch: branch,
		}

		if wc := projectConfig.Webhook; wc != nil {
			if other, taken := webhookOwners[wc.ID]; taken {
				return nil, nil, fmt.Errorf("webhook id %d is used by both '%s' and '%s'", wc.ID, other, key)
			}
			webhookOwners[wc.ID] = key

			enabled := true
			if wc.Enabled != nil {
				enabled = *wc.Enabled
			}
			p.Webhook = &Webhook{
				ID:      wc.ID,
				Secret:  []byte(wc.Secret),
				Enabled: enabled,
			}
		}

		projects[key] = p
	}

	return &config, projects, nil
}

// ProjectPath returns the working directory of a user's project.
func ProjectPath(usersPath, owner, name string) string {
	return filepath.Join(usersPath, owner, name)
}

// ValidateProjectConfig validates a single project configuration and returns
// every problem found.
func ValidateProjectConfig(key string, config ProjectConfig) []string {
	var errors []string

	owner, name, ok := strings.Cut(key, "/")
	if !ok {
		errors = append(errors, fmt.Sprintf("  - Project '%s': key must have the form 'owner/name'", key))
	} else {
		if err := security.ValidateUsername(owner); err != nil {
			errors = append(errors, fmt.Sprintf("  - Project '%s': %v", key, err))
		}
		if err := security.ValidateProjectName(name); err != nil {
			errors = append(errors, fmt.Sprintf("  - Project '%s': %v", key, err))
		}
	}

	if config.Path != "" && !filepath.IsAbs(config.Path) {
		errors = append(errors, fmt.Sprintf("  - Project '%s': path must be absolute, got '%s'", key, config.Path))
	}

	branch := config.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	if err := security.ValidateBranchName(branch); err != nil {
		errors = append(errors, fmt.Sprintf("  - Project '%s': %v, got '%s'", key, err, branch))
	}

	if wc := config.Webhook; wc != nil {
		if wc.ID <= 0 {
			errors = append(errors, fmt.Sprintf("  - Project '%s': webhook id must be a positive integer, got %d", key, wc.ID))
		}
		if wc.Secret == "" {
			errors = append(errors, fmt.Sprintf("  - Project '%s': missing required webhook 'secret' field", key))
		} else if err := security.ValidateSecret(wc.Secret); err != nil {
			errors = append(errors, fmt.Sprintf("  - Project '%s': webhook %v", key, err))
		}
	}

	return errors
}
