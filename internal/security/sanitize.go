package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	gitURLPattern  = regexp.MustCompile(`^https://(github\.com|gitlab\.com|bitbucket\.org)/[\w.-]+/[\w.-]+(\.git)?$`)
	branchPattern  = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	projectPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	userPattern    = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

// ValidateGitURL accepts only HTTPS repository URLs on the supported
// hosting providers, in the form https://<host>/<owner>/<repo>[.git].
func ValidateGitURL(rawURL string) error {
	if !gitURLPattern.MatchString(rawURL) {
		return fmt.Errorf("unsupported repository URL (expected https://github.com|gitlab.com|bitbucket.org/<owner>/<repo>)")
	}
	for _, segment := range strings.Split(strings.TrimPrefix(rawURL, "https://"), "/") {
		if segment == "." || segment == ".." {
			return fmt.Errorf("repository URL contains a relative path segment")
		}
	}
	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateProjectName ensures project name is safe for use in paths and URLs.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("project name cannot start with '-' or '.'")
	}
	if !projectPattern.MatchString(name) {
		return fmt.Errorf("project name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateUsername checks a system username as used for per-user directories.
func ValidateUsername(name string) error {
	if !userPattern.MatchString(name) {
		return fmt.Errorf("invalid system username %q", name)
	}
	return nil
}

// WithinDir resolves target relative to base and reports an error when the
// result would land outside base. Both paths are cleaned; symlinks are not
// evaluated since the target may not exist yet.
func WithinDir(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	joined := target
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(absBase, target)
	}
	cleaned := filepath.Clean(joined)

	rel, err := filepath.Rel(absBase, cleaned)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", target, absBase)
	}
	return cleaned, nil
}

// SanitizeReturnURL returns candidate when it is a same-site absolute path
// and fallback otherwise. Anything that a browser could resolve to another
// origin is rejected: protocol-relative "//", schemes, backslashes,
// percent-encoded separators, query or fragment markers, control characters
// and dot-dot segments.
func SanitizeReturnURL(candidate, fallback string) string {
	if candidate == "" || candidate[0] != '/' {
		return fallback
	}
	if strings.HasPrefix(candidate, "//") {
		return fallback
	}

	lower := strings.ToLower(candidate)
	if strings.Contains(lower, ":") ||
		strings.Contains(lower, "\\") ||
		strings.Contains(lower, "%2f") ||
		strings.Contains(lower, "%5c") ||
		strings.Contains(lower, "%2e") ||
		strings.ContainsAny(lower, "?#") {
		return fallback
	}

	for _, r := range candidate {
		if r < 0x20 || r == 0x7f {
			return fallback
		}
	}

	for _, segment := range strings.Split(candidate, "/") {
		if segment == ".." || segment == "." {
			return fallback
		}
	}

	return candidate
}
