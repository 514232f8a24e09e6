package templates

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Template names
const (
	NginxStatic = "nginx-static"
	ProjectEnv  = "project-env"
)

//go:embed files/*.template
var builtin embed.FS

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// GetTemplatePaths returns the override search paths for a template.
func GetTemplatePaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "dployr", "templates", filename),
	}
}

// GetTemplate returns the raw template content by name.
// An operator override is used when one exists at:
// 1. ./templates/<name>.template
// 2. ./config/templates/<name>.template
// 3. /etc/dployr/templates/<name>.template
// Otherwise the built-in copy is returned.
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := builtin.ReadFile("files/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("built-in template missing: %s", name)
	}
	return string(content), nil
}

// Render renders a template with the given data.
// Uses {{PLACEHOLDER}} syntax for variable substitution.
//
// Example:
//
//	rendered, err := Render(ProjectEnv, TemplateData{
//	    "PROJECT_NAME": "alice-blog",
//	    "EXPOSED_PORT": "8080",
//	})
func Render(templateName string, data TemplateData) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	rendered := tmplContent
	for key, value := range data {
		placeholder := fmt.Sprintf("{{%s}}", key)
		rendered = strings.ReplaceAll(rendered, placeholder, value)
	}

	return rendered, nil
}

// RenderNginxStatic renders the server block for a static site container.
func RenderNginxStatic() (string, error) {
	return Render(NginxStatic, TemplateData{
		"SERVER_NAME":   "_",
		"DOCUMENT_ROOT": "/usr/share/nginx/html",
	})
}

// RenderProjectEnv renders the .env file of an ingested project.
func RenderProjectEnv(projectName string, port int) (string, error) {
	return Render(ProjectEnv, TemplateData{
		"PROJECT_NAME": projectName,
		"EXPOSED_PORT": strconv.Itoa(port),
	})
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	names := []string{NginxStatic, ProjectEnv}
	sort.Strings(names)
	return names
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	validNames := map[string]bool{
		NginxStatic: true,
		ProjectEnv:  true,
	}
	return validNames[name]
}
