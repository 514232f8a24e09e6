package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"dployr/internal/container"
	"dployr/internal/project"
	"dployr/internal/security"

	"github.com/spf13/cobra"
)

var logLines int

var containersCmd = &cobra.Command{
	Use:   "containers",
	Short: "List and control a user's containers",
}

var containersListCmd = &cobra.Command{
	Use:   "list <user>[/<project>]",
	Short: "List a user's containers, or one project's",
	Args:  cobra.ExactArgs(1),
	RunE:  runContainersList,
}

var containersLogsCmd = &cobra.Command{
	Use:   "logs <user> <container>",
	Short: "Show the latest log lines of a container",
	Args:  cobra.ExactArgs(2),
	RunE:  runContainersLogs,
}

func init() {
	containersLogsCmd.Flags().IntVarP(&logLines, "lines", "n", 100, "Number of lines to show")

	containersCmd.AddCommand(containersListCmd)
	containersCmd.AddCommand(containersLogsCmd)
	containersCmd.AddCommand(containerActionCmd("start", (*container.Docker).Start))
	containersCmd.AddCommand(containerActionCmd("stop", (*container.Docker).Stop))
	containersCmd.AddCommand(containerActionCmd("restart", (*container.Docker).Restart))
}

type containerAction func(d *container.Docker, ctx context.Context, owner, id string) error

func containerActionCmd(verb string, action containerAction) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <user> <container>",
		Short: fmt.Sprintf("%s one of a user's containers", verb),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docker, err := openDocker(args[0])
			if err != nil {
				return err
			}
			defer docker.Close()

			msg := fmt.Sprintf("%s %s", verb, args[1])
			if err := action(docker, cmd.Context(), args[0], args[1]); err != nil {
				printFail(cmd.OutOrStdout(), msg)
				return err
			}
			printSuccess(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func openDocker(user string) (*container.Docker, error) {
	if err := security.ValidateUsername(user); err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	return container.NewDocker(logger)
}

func runContainersList(cmd *cobra.Command, args []string) error {
	owner, name := args[0], ""
	if strings.Contains(args[0], "/") {
		var err error
		if owner, name, err = splitProjectRef(args[0]); err != nil {
			return err
		}
	}

	docker, err := openDocker(owner)
	if err != nil {
		return err
	}
	defer docker.Close()

	var containers []container.Container
	if name == "" {
		containers, err = docker.UserContainers(cmd.Context(), owner)
	} else {
		containers, err = docker.ProjectContainers(cmd.Context(), owner, project.ComposeName(owner, name))
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(containers) == 0 {
		fmt.Fprintln(out, "No containers found.")
		return nil
	}

	var rows [][]string
	for _, c := range containers {
		rows = append(rows, []string{c.ID, c.Name, c.Project, c.Image, statusColor(c.State), c.Status})
	}
	table, err := renderTable([]string{"ID", "Name", "Project", "Image", "State", "Status"}, rows)
	if err != nil {
		return err
	}
	fmt.Fprint(out, table)
	return nil
}

func runContainersLogs(cmd *cobra.Command, args []string) error {
	docker, err := openDocker(args[0])
	if err != nil {
		return err
	}
	defer docker.Close()

	logs, err := docker.Logs(cmd.Context(), args[0], args[1], logLines)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), logs)
	return nil
}
