package main

import (
	"fmt"
	"os"
	"time"

	"dployr/internal/deployment"
	"dployr/internal/gitsync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var repoToken string

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Connect projects to git repositories",
}

var repoConnectCmd = &cobra.Command{
	Use:   "connect <owner>/<project> <https-url>",
	Short: "Clone a repository into a project",
	Long: `Clone a GitHub, GitLab or Bitbucket repository into the project directory.

docker-compose.yml and nginx/ already present in the project are kept and
take precedence over the repository's copies. A token, if given, is stored in
the project's .git-credentials with mode 0600 and never in the remote URL.`,
	Args: cobra.ExactArgs(2),
	RunE: runRepoConnect,
}

var repoPullCmd = &cobra.Command{
	Use:   "pull <owner>/<project>",
	Short: "Pull the latest commits without restarting",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoPull,
}

var repoDisconnectCmd = &cobra.Command{
	Use:   "disconnect <owner>/<project>",
	Short: "Remove git metadata and stored credentials from a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoDisconnect,
}

var repoStatusCmd = &cobra.Command{
	Use:   "status <owner>/<project>",
	Short: "Show the repository a project is connected to",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoStatus,
}

func init() {
	repoConnectCmd.Flags().StringVar(&repoToken, "token", os.Getenv("DPLOYR_GIT_TOKEN"), "Access token for private repositories")

	repoCmd.AddCommand(repoConnectCmd)
	repoCmd.AddCommand(repoPullCmd)
	repoCmd.AddCommand(repoDisconnectCmd)
	repoCmd.AddCommand(repoStatusCmd)
}

// repoTarget is the project a repo command operates on.
type repoTarget struct {
	key    string
	path   string
	engine *gitsync.Engine
}

func resolveRepoTarget(ref string) (*repoTarget, error) {
	owner, name, err := splitProjectRef(ref)
	if err != nil {
		return nil, err
	}
	env, err := loadEnvironment(false)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	return &repoTarget{
		key:    owner + "/" + name,
		path:   env.projectPath(owner, name),
		engine: gitsync.NewEngine(logger),
	}, nil
}

// withClaim runs fn while holding the project's deployment claim, so a
// repo command never races a webhook or manual deployment of the same
// project.
func (t *repoTarget) withClaim(fn func() error) error {
	claims, err := sharedClaims()
	if err != nil {
		return err
	}
	run := &deployment.Run{
		ID:        uuid.New(),
		Project:   t.key,
		Trigger:   deployment.TriggerManual,
		State:     deployment.StateRunning,
		StartedAt: time.Now(),
	}
	return claims.WithClaim(t.key, run, fn)
}

func runRepoConnect(cmd *cobra.Command, args []string) error {
	target, err := resolveRepoTarget(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	msg := "Cloning " + gitsync.SanitizeURL(args[1])
	err = target.withClaim(func() error {
		return target.engine.Clone(cmd.Context(), target.path, args[1], repoToken)
	})
	if err != nil {
		printFail(out, msg)
		return err
	}
	printSuccess(out, msg)
	return nil
}

func runRepoPull(cmd *cobra.Command, args []string) error {
	target, err := resolveRepoTarget(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var result *gitsync.PullResult
	err = target.withClaim(func() error {
		var err error
		result, err = target.engine.Pull(cmd.Context(), target.path)
		return err
	})
	if err != nil {
		printFail(out, "Pulling "+args[0])
		return err
	}
	if result.HasChanges {
		printSuccess(out, fmt.Sprintf("Updated %s to %s", args[0], short(result.After)))
	} else {
		printSuccess(out, args[0]+" already up to date")
	}
	return nil
}

func runRepoDisconnect(cmd *cobra.Command, args []string) error {
	target, err := resolveRepoTarget(args[0])
	if err != nil {
		return err
	}
	err = target.withClaim(func() error {
		return target.engine.Disconnect(target.path)
	})
	if err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), "Disconnected "+args[0])
	return nil
}

func runRepoStatus(cmd *cobra.Command, args []string) error {
	target, err := resolveRepoTarget(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	link, err := gitsync.Status(target.path)
	if err != nil {
		return err
	}
	if link == nil {
		fmt.Fprintf(out, "%s is not connected to a repository\n", args[0])
		return nil
	}

	changes := "no"
	if link.HasLocalChanges {
		changes = colorWarn("yes")
	}
	rows := [][]string{
		{"Path", link.LocalPath},
		{"Remote", link.RemoteURL},
		{"Branch", link.Branch},
		{"Local changes", changes},
	}
	if c := link.LastCommit; c != nil {
		rows = append(rows,
			[]string{"Last commit", c.ShortHash() + " " + c.Message},
			[]string{"Author", c.Author},
			[]string{"Date", c.Date.Format("2006-01-02 15:04:05")},
		)
	}

	table, err := renderTable(nil, rows)
	if err != nil {
		return err
	}
	fmt.Fprint(out, table)
	return nil
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
