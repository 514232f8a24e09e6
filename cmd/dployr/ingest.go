package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dployr/internal/archive"
	"dployr/internal/container"

	"github.com/spf13/cobra"
)

var (
	ingestPort  int
	ingestStart bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <owner>/<project> <archive.zip>",
	Short: "Create a project from a zip archive",
	Long: `Validate a zip archive and turn it into a new project directory.

The archive is checked for path traversal, size limits and compression bombs
before anything is written. Container build files inside the archive are
removed and a docker-compose.yml matching the detected project type is
generated. The source archive is left in place.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestPort, "port", 8080, "Host port to expose the project on")
	ingestCmd.Flags().BoolVar(&ingestStart, "start", false, "Start the project's containers after ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	owner, name, err := splitProjectRef(args[0])
	if err != nil {
		return err
	}

	env, err := loadEnvironment(false)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	src := args[1]
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("cannot read archive: %w", err)
	}
	if err := archive.CheckUpload(filepath.Base(src), info.Size()); err != nil {
		return err
	}

	// The ingester consumes its input, so it works on a staged copy.
	staged, err := stageUpload(src)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	manifest, err := archive.NewIngester(logger).Ingest(cmd.Context(), archive.Request{
		Owner:       owner,
		Project:     name,
		ProjectPath: env.projectPath(owner, name),
		ArchivePath: staged,
		Port:        ingestPort,
	})
	if err != nil {
		var verr *archive.ValidationError
		if errors.As(err, &verr) {
			for _, e := range verr.Errors {
				printFail(out, e)
			}
		}
		return err
	}

	printSuccess(out, fmt.Sprintf("Created %s/%s (%s)", owner, name, manifest.ProjectType))
	for _, w := range manifest.Warnings {
		printWarn(out, w)
	}
	for _, removed := range manifest.RemovedFiles {
		printWarn(out, "Removed "+filepath.Base(removed))
	}

	rows := [][]string{
		{"Path", manifest.Path},
		{"Type", string(manifest.ProjectType)},
		{"Port", fmt.Sprint(manifest.Port)},
		{"Compose project", manifest.ComposeName},
	}
	table, err := renderTable(nil, rows)
	if err != nil {
		return err
	}
	fmt.Fprint(out, table)

	if ingestStart {
		compose := container.NewCompose(env.UsersPath, env.HostUsersPath, logger)
		if err := compose.Start(cmd.Context(), manifest.Path); err != nil {
			printFail(out, "Starting containers")
			return err
		}
		printSuccess(out, "Starting containers")
	}
	return nil
}

func stageUpload(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("cannot read archive: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp("", "dployr-upload-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to stage archive: %w", err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage archive: %w", err)
	}
	return tmp.Name(), nil
}
