package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// withOverride writes an override template into a temp working directory.
func withOverride(t *testing.T, name, content string) {
	t.Helper()
	tmpDir := t.TempDir()
	templatesDir := filepath.Join(tmpDir, "templates")
	if err := os.MkdirAll(templatesDir, 0755); err != nil {
		t.Fatalf("Failed to create templates directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(templatesDir, name+".template"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write override: %v", err)
	}

	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestGetTemplate(t *testing.T) {
	tests := []struct {
		name         string
		templateName string
		wantErr      bool
		contains     string
	}{
		{"nginx static template", NginxStatic, false, "try_files $uri $uri/ =404;"},
		{"project env template", ProjectEnv, false, "EXPOSED_PORT="},
		{"unknown template", "invalid-template", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetTemplate(tt.templateName)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetTemplate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !strings.Contains(got, tt.contains) {
				t.Errorf("GetTemplate() should contain %q", tt.contains)
			}
		})
	}
}

func TestGetTemplateOverride(t *testing.T) {
	withOverride(t, NginxStatic, "server { listen 8080; server_name {{SERVER_NAME}}; }")

	got, err := RenderNginxStatic()
	if err != nil {
		t.Fatalf("RenderNginxStatic() error = %v", err)
	}
	if got != "server { listen 8080; server_name _; }" {
		t.Errorf("Override not used, got: %s", got)
	}
}

func TestRenderNginxStatic(t *testing.T) {
	rendered, err := RenderNginxStatic()
	if err != nil {
		t.Fatalf("RenderNginxStatic() error = %v", err)
	}

	expectations := []string{
		"listen 80;",
		"server_name _;",
		"root /usr/share/nginx/html;",
		`add_header X-Frame-Options "SAMEORIGIN" always;`,
		"expires 1y;",
		"error_page 500 502 503 504 /50x.html;",
	}
	for _, expected := range expectations {
		if !strings.Contains(rendered, expected) {
			t.Errorf("RenderNginxStatic() should contain %q", expected)
		}
	}
	if strings.Contains(rendered, "{{") {
		t.Errorf("RenderNginxStatic() left placeholders: %s", rendered)
	}
}

func TestRenderNginxStaticDeniesProjectFiles(t *testing.T) {
	rendered, err := RenderNginxStatic()
	if err != nil {
		t.Fatalf("RenderNginxStatic() error = %v", err)
	}

	denied := []string{
		"location ~ /\\. {",
		"location ~ ^/(docker-compose\\.ya?ml|nginx/) {",
	}
	for _, block := range denied {
		i := strings.Index(rendered, block)
		if i < 0 {
			t.Errorf("RenderNginxStatic() should contain %q", block)
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(rendered[i+len(block):]), "deny all;") {
			t.Errorf("%q should deny all requests", block)
		}
	}

	// Regex locations match in file order.
	if strings.Index(rendered, "location ~ /\\.") > strings.Index(rendered, "location ~* \\.(jpg") {
		t.Error("Dotfile denial must precede the static asset location")
	}
}

func TestRenderProjectEnv(t *testing.T) {
	rendered, err := RenderProjectEnv("alice-blog", 8080)
	if err != nil {
		t.Fatalf("RenderProjectEnv() error = %v", err)
	}

	want := "PROJECT_NAME=alice-blog\nEXPOSED_PORT=8080\n"
	if rendered != want {
		t.Errorf("RenderProjectEnv() = %q, want %q", rendered, want)
	}
}

func TestRenderUnknown(t *testing.T) {
	if _, err := Render("invalid", TemplateData{}); err == nil {
		t.Error("Render() should fail for an unknown template")
	}
}

func TestListTemplates(t *testing.T) {
	templates := ListTemplates()

	if len(templates) != 2 {
		t.Errorf("ListTemplates() returned %d templates, want 2", len(templates))
	}
	for _, name := range templates {
		if !ValidateTemplate(name) {
			t.Errorf("ListTemplates() returned invalid template %s", name)
		}
	}
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name         string
		templateName string
		want         bool
	}{
		{"valid nginx static", NginxStatic, true},
		{"valid project env", ProjectEnv, true},
		{"invalid template", "invalid-template", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTemplate(tt.templateName); got != tt.want {
				t.Errorf("ValidateTemplate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkRenderNginxStatic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = RenderNginxStatic()
	}
}
