package main

import (
	"fmt"
	"os"

	"dployr/internal/provision"

	"github.com/spf13/cobra"
)

var (
	githubToken  string
	githubAPIURL string
	publicURL    string
)

var githubHookCmd = &cobra.Command{
	Use:   "github-hook <owner>/<project> <github-owner>/<repo>",
	Short: "Register a project's webhook on a GitHub repository",
	Long: `Create a push webhook on a GitHub repository pointing at this server's
/api/webhooks/{id} endpoint, signed with the project's configured secret.
Nothing is created when a hook with the same URL already exists.`,
	Args: cobra.ExactArgs(2),
	RunE: runGitHubHook,
}

func init() {
	githubHookCmd.Flags().StringVar(&githubToken, "token", os.Getenv("GITHUB_TOKEN"), "GitHub token with admin:repo_hook scope")
	githubHookCmd.Flags().StringVar(&githubAPIURL, "api-url", os.Getenv("GITHUB_API_URL"), "GitHub API URL (GitHub Enterprise)")
	githubHookCmd.Flags().StringVar(&publicURL, "public-url", os.Getenv("DPLOYR_PUBLIC_URL"), "Public base URL of this server")
}

func runGitHubHook(cmd *cobra.Command, args []string) error {
	owner, name, err := splitProjectRef(args[0])
	if err != nil {
		return err
	}
	if publicURL == "" {
		return fmt.Errorf("--public-url or DPLOYR_PUBLIC_URL is required")
	}

	env, err := loadEnvironment(true)
	if err != nil {
		return err
	}
	p, err := env.Registry.Get(owner, name)
	if err != nil {
		return err
	}
	if p.Webhook == nil {
		return fmt.Errorf("project %s has no webhook configured", p.Key())
	}

	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}
	gh, err := provision.NewGitHub(cmd.Context(), githubToken, githubAPIURL, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	hookURL := provision.HookURL(publicURL, p.Webhook.ID)
	result, err := gh.EnsurePushHook(cmd.Context(), args[1], hookURL, string(p.Webhook.Secret))
	if err != nil {
		printFail(out, "Creating GitHub webhook")
		return err
	}
	if result.Created {
		printSuccess(out, "Creating GitHub webhook")
	} else {
		printSuccess(out, "Webhook already exists on GitHub")
	}
	fmt.Fprintf(out, "  %s\n", result.URL)
	return nil
}
