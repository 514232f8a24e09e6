package gitsync

import (
	"fmt"
	"net/url"
	"regexp"

	"dployr/internal/security"
)

var (
	displayCredentials = regexp.MustCompile(`https://[^@/\s]+@`)
	tokenPattern       = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// tokenUsernames maps each supported host to the username its HTTPS
// endpoint expects alongside an access token.
var tokenUsernames = map[string]string{
	"github.com":    "x-access-token",
	"gitlab.com":    "oauth2",
	"bitbucket.org": "x-token-auth",
}

// SanitizeURL strips any inline credentials from an https URL so it can be
// shown or logged: https://token@github.com/a/b becomes https://github.com/a/b.
func SanitizeURL(raw string) string {
	return displayCredentials.ReplaceAllString(raw, "https://")
}

// ValidateRemoteURL accepts only https URLs on the supported providers.
func ValidateRemoteURL(raw string) error {
	return security.ValidateGitURL(raw)
}

// ValidateToken rejects tokens that could alter the URL they are embedded in.
func ValidateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return fmt.Errorf("access token contains invalid characters")
	}
	return nil
}

// authenticatedURL embeds token into remote. The result must never be logged.
func authenticatedURL(remote, token string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL: %w", err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("tokens are only supported for https URLs")
	}
	u.User = url.UserPassword(usernameFor(u.Host), token)
	return u.String(), nil
}

// credentialLine renders the git credential-store entry for remote.
func credentialLine(remote, token string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL: %w", err)
	}
	entry := url.URL{
		Scheme: "https",
		User:   url.UserPassword(usernameFor(u.Host), token),
		Host:   u.Host,
	}
	return entry.String() + "\n", nil
}

func usernameFor(host string) string {
	if name, ok := tokenUsernames[host]; ok {
		return name
	}
	return "git"
}
