package main

import (
	"fmt"
	"os"

	"dployr/internal/container"
	"dployr/internal/deployment"
	"dployr/internal/gitsync"
	"dployr/internal/history"

	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <owner>/<project>",
	Short: "Pull and restart a project now",
	Long: `Run a manual deployment: pull the project's repository and restart its
containers when new commits arrived. The run is recorded in the history
database given by --db when that file exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("DPLOYR_DB_PATH", "./deployments.db"), "Path to SQLite database")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	owner, name, err := splitProjectRef(args[0])
	if err != nil {
		return err
	}
	env, err := loadEnvironment(true)
	if err != nil {
		return err
	}
	p, err := env.Registry.Get(owner, name)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	notifier := deployment.MultiNotifier{deployment.LogNotifier{Logger: logger}}
	if _, err := os.Stat(dbPath); err == nil {
		hist, err := history.NewHistory(dbPath)
		if err != nil {
			return err
		}
		defer hist.Close()
		notifier = append(notifier, history.Recorder{History: hist, Logger: logger})
	}

	claims, err := sharedClaims()
	if err != nil {
		return err
	}
	coordinator := deployment.NewCoordinator(
		gitsync.NewEngine(logger),
		container.NewCompose(env.UsersPath, env.HostUsersPath, logger),
		notifier,
		logger,
		deployment.WithClaims(claims),
	)

	out := cmd.OutOrStdout()
	result := coordinator.ExecuteDeploy(cmd.Context(), p, deployment.TriggerManual, "")
	switch result.Status {
	case deployment.StatusFailed:
		printFail(out, "Deploying "+p.Key())
		return fmt.Errorf("deployment failed: %s", result.Run.Error)
	case deployment.StatusSkipped:
		printWarn(out, "Deploying "+p.Key()+" (already running)")
	default:
		if result.HasChanges {
			printSuccess(out, fmt.Sprintf("Deployed %s at %s", p.Key(), short(result.Run.CommitHash)))
		} else {
			printSuccess(out, p.Key()+" already up to date")
		}
	}
	return nil
}
