// Package provision registers dployr's webhook endpoint with hosting
// providers so pushes reach the gateway without manual setup.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"dployr/internal/security"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHub creates repository webhooks through the GitHub REST API.
type GitHub struct {
	client *github.Client
	logger *slog.Logger
}

// HookResult describes the webhook that now points at the gateway.
type HookResult struct {
	ID      int64
	URL     string
	Created bool
}

// NewGitHub returns a client authenticated with a personal access token.
// A non-empty apiURL overrides the API endpoint (GitHub Enterprise, tests).
func NewGitHub(ctx context.Context, token, apiURL string, logger *slog.Logger) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		base, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API URL: %w", err)
		}
		client.BaseURL = base
	}

	return &GitHub{client: client, logger: logger}, nil
}

// HookURL is the public gateway address for a webhook registration.
func HookURL(publicURL string, webhookID int64) string {
	return strings.TrimRight(publicURL, "/") + "/api/webhooks/" + strconv.FormatInt(webhookID, 10)
}

// EnsurePushHook registers hookURL as a JSON push webhook on ownerRepo
// ("owner/repo") unless a hook with the same URL already exists.
func (g *GitHub) EnsurePushHook(ctx context.Context, ownerRepo, hookURL, secret string) (*HookResult, error) {
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("invalid owner/repo format: %s", ownerRepo)
	}
	if err := security.ValidateSecret(secret); err != nil {
		return nil, fmt.Errorf("webhook secret rejected: %w", err)
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		hooks, resp, err := g.client.Repositories.ListHooks(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing webhooks: %w", err)
		}
		for _, hook := range hooks {
			if existing, ok := hook.Config["url"].(string); ok && existing == hookURL {
				g.logger.Info("github_hook_exists", "repo", ownerRepo, "hook_id", hook.GetID())
				return &HookResult{ID: hook.GetID(), URL: hookURL}, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	hookReq := &github.Hook{
		Events: []string{"push"},
		Active: github.Bool(true),
		Config: map[string]interface{}{
			"url":          hookURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}

	created, _, err := g.client.Repositories.CreateHook(ctx, owner, repo, hookReq)
	if err != nil {
		return nil, fmt.Errorf("creating webhook: %w", err)
	}

	g.logger.Info("github_hook_created", "repo", ownerRepo, "hook_id", created.GetID())
	return &HookResult{ID: created.GetID(), URL: hookURL, Created: true}, nil
}
