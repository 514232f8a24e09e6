package main

import (
	"fmt"
	"sort"

	"dployr/internal/history"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [<owner>/<project>]",
	Short: "Show deployment history",
	Long: `Without arguments, show the latest deployment of every project.
With a project, show its most recent deployments.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("DPLOYR_DB_PATH", "./deployments.db"), "Path to SQLite database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of deployments to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	hist, err := history.NewHistory(dbPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	var records []history.DeploymentRecord
	if len(args) == 1 {
		owner, name, err := splitProjectRef(args[0])
		if err != nil {
			return err
		}
		records, err = hist.GetDeploymentHistory(cmd.Context(), owner+"/"+name, historyLimit)
		if err != nil {
			return err
		}
	} else {
		latest, err := hist.GetAllProjectsStatus(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range latest {
			records = append(records, *r)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Project < records[j].Project })
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No deployments recorded.")
		return nil
	}

	var rows [][]string
	for _, r := range records {
		rows = append(rows, historyRow(r))
	}
	table, err := renderTable([]string{"Project", "Started", "Trigger", "Status", "Commit", "Duration", "Error"}, rows)
	if err != nil {
		return err
	}
	fmt.Fprint(out, table)
	return nil
}

func historyRow(r history.DeploymentRecord) []string {
	commit, duration, errMsg := "-", "-", ""
	if r.CommitHash != nil {
		commit = short(*r.CommitHash)
	}
	if r.DurationSeconds != nil {
		duration = fmt.Sprintf("%.1fs", *r.DurationSeconds)
	}
	if r.ErrorMessage != nil {
		errMsg = *r.ErrorMessage
	}
	return []string{
		r.Project,
		r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		r.Trigger,
		statusColor(r.Status),
		commit,
		duration,
		errMsg,
	}
}
