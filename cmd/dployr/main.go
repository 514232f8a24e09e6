package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var (
	configFile string
	logLevel   string
	noColor    bool
	lockDir    string
)

var rootCmd = &cobra.Command{
	Use:   "dployr",
	Short: "Self-hosted deployment dashboard core",
	Long: `dployr deploys user projects on a single host.

It receives push webhooks from GitHub, GitLab and Bitbucket, keeps project
working trees in sync with their repositories, ingests zip uploads and drives
the projects' containers through Docker Compose.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorFail("Error: %v", err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", getEnvOrDefault("DPLOYR_CONFIG_FILE", ""), "Path to dployr.yaml configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnvOrDefault("DPLOYR_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&lockDir, "lock-dir", getEnvOrDefault("DPLOYR_LOCK_DIR", filepath.Join(os.TempDir(), "dployr-locks")), "Directory of per-project deployment locks shared by all dployr processes")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(containersCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dbcredsCmd)
	rootCmd.AddCommand(githubHookCmd)
}
