package project

import (
	"path"

	"github.com/gosimple/slug"
)

// Project is a validated, per-user deployable application.
type Project struct {
	Owner   string
	Name    string
	Path    string
	Branch  string
	Webhook *Webhook
}

// Webhook is the inbound push registration of a project.
type Webhook struct {
	ID      int64
	Secret  []byte
	Enabled bool
}

// Key identifies a project across the service as "owner/name".
func (p *Project) Key() string {
	return path.Join(p.Owner, p.Name)
}

// ComposeName is the container project name of p.
func (p *Project) ComposeName() string {
	return ComposeName(p.Owner, p.Name)
}

// ComposeName derives the name shared by a project's compose service, its
// container and the PROJECT_NAME in its .env: "owner-name", lowercased as
// Docker requires.
func ComposeName(owner, name string) string {
	return slug.Make(owner + "-" + name)
}

// ProjectConfig represents the YAML configuration for a project
type ProjectConfig struct {
	Path    string         `yaml:"path"`
	Branch  string         `yaml:"branch"`
	Webhook *WebhookConfig `yaml:"webhook"`
}

// WebhookConfig represents the YAML configuration for a webhook registration.
type WebhookConfig struct {
	ID      int64  `yaml:"id"`
	Secret  string `yaml:"secret"`
	Enabled *bool  `yaml:"enabled"`
}

// Config represents the root configuration structure
type Config struct {
	// UsersPath is the root holding one directory per system user.
	UsersPath string `yaml:"users_path"`

	// HostUsersPath is UsersPath as seen by the container runtime host.
	// Empty means the two are identical.
	HostUsersPath string `yaml:"host_users_path"`

	Projects map[string]ProjectConfig `yaml:"projects"`
}
