package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"dployr/internal/container"
	"dployr/internal/project"
	"dployr/internal/security"
	"dployr/pkg/fileutil"
	"dployr/pkg/templates"

	"gopkg.in/yaml.v3"
)

// ProjectType is the runtime an ingested project is served with.
type ProjectType string

const (
	TypeStatic ProjectType = "static"
	TypeNode   ProjectType = "node"
	TypePHP    ProjectType = "php"
	TypePython ProjectType = "python"
)

// ManifestInfo describes the runtime files written for an ingested project.
type ManifestInfo struct {
	ProjectType  ProjectType `json:"project_type"`
	Path         string      `json:"path"`
	Port         int         `json:"port"`
	ComposeName  string      `json:"compose_name"`
	Flattened    bool        `json:"flattened"`
	Warnings     []string    `json:"warnings"`
	RemovedFiles []string    `json:"removed_files"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart"`
	WorkingDir    string            `yaml:"working_dir,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports"`
	Volumes       []string          `yaml:"volumes"`
	Labels        map[string]string `yaml:"labels"`
}

// DetectProjectType picks a runtime from marker files in dir.
func DetectProjectType(dir string) ProjectType {
	has := func(name string) bool {
		return fileutil.FileExists(filepath.Join(dir, name))
	}
	switch {
	case has("package.json"):
		return TypeNode
	case has("composer.json"), has("index.php"):
		return TypePHP
	case has("requirements.txt"):
		return TypePython
	default:
		return TypeStatic
	}
}

// GenerateCompose renders docker-compose.yml for a project of the given type
// published on port.
func GenerateCompose(projectType ProjectType, owner, name string, port int) ([]byte, error) {
	composeName := project.ComposeName(owner, name)
	svc := composeService{
		ContainerName: composeName,
		Restart:       "unless-stopped",
		Labels: map[string]string{
			container.LabelUser:    owner,
			container.LabelProject: name,
		},
	}

	switch projectType {
	case TypeNode:
		svc.Image = "node:20-alpine"
		svc.WorkingDir = "/app"
		svc.Command = []string{"sh", "-c", "npm install && npm start"}
		svc.Environment = map[string]string{"PORT": "3000", "NODE_ENV": "production"}
		svc.Ports = []string{fmt.Sprintf("%d:3000", port)}
		svc.Volumes = []string{"./:/app"}
	case TypePHP:
		svc.Image = "php:8.2-apache"
		svc.Ports = []string{fmt.Sprintf("%d:80", port)}
		svc.Volumes = []string{"./:/var/www/html"}
	case TypePython:
		svc.Image = "python:3.12-slim"
		svc.WorkingDir = "/app"
		svc.Command = []string{"sh", "-c", "pip install --no-cache-dir -r requirements.txt && python app.py"}
		svc.Environment = map[string]string{"PORT": "8000"}
		svc.Ports = []string{fmt.Sprintf("%d:8000", port)}
		svc.Volumes = []string{"./:/app"}
	case TypeStatic:
		svc.Image = "nginx:alpine"
		svc.Ports = []string{fmt.Sprintf("%d:80", port)}
		svc.Volumes = []string{
			"./:/usr/share/nginx/html:ro",
			"./nginx/default.conf:/etc/nginx/conf.d/default.conf:ro",
		}
	default:
		return nil, fmt.Errorf("unknown project type %q", projectType)
	}

	return yaml.Marshal(composeFile{Services: map[string]composeService{composeName: svc}})
}

// writeManifest writes docker-compose.yml, .env and, for static sites, the
// nginx server block into dir.
func writeManifest(dir string, projectType ProjectType, owner, name string, port int) error {
	compose, err := GenerateCompose(projectType, owner, name, port)
	if err != nil {
		return err
	}
	if err := security.WriteSecureFile(filepath.Join(dir, "docker-compose.yml"), compose, security.PermPublicFile); err != nil {
		return err
	}

	env, err := templates.RenderProjectEnv(project.ComposeName(owner, name), port)
	if err != nil {
		return err
	}
	if err := security.WriteSecureFile(filepath.Join(dir, ".env"), []byte(env), security.PermPublicFile); err != nil {
		return err
	}

	if projectType != TypeStatic {
		return nil
	}

	nginxDir := filepath.Join(dir, "nginx")
	if err := os.MkdirAll(nginxDir, 0o755); err != nil {
		return err
	}
	conf, err := templates.RenderNginxStatic()
	if err != nil {
		return err
	}
	return security.WriteSecureFile(filepath.Join(nginxDir, "default.conf"), []byte(conf), security.PermPublicFile)
}
