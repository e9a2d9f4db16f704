package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	dsnFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "autoflow",
	Short: "autoflow — CI execution tracking and notifications",
	Long: `autoflow records every run of the CI pipelines it tracks, whether it learns
about the run from a GitHub webhook or from periodic polling, and emails
subscribers when a run starts, succeeds, fails, or is stopped.

Configuration is read from ./autoflow.yaml or ~/.autoflow/config.yaml.
State is stored in SQLite (~/.autoflow/autoflow.db) or Postgres.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to autoflow config file")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "db", "", "database DSN or SQLite path (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(subscriptionCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}
