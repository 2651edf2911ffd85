package cli

import (
	"github.com/lucasnoah/specforge/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "specforge — an orchestrator for requirement-implementation runs",
	Long: `specforge drives a work item through analysis, implementation, testing,
and fixes phases against configured phase and tool executor commands.

Run artifacts are stored in ~/.forge/runs (JSON) and test history in
~/.forge/forge.db (SQLite) or a shared Postgres database.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to forge config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}
