package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmazurovsky/jobs-alerts-sub001/cmd/alertd/commands"
	"github.com/mmazurovsky/jobs-alerts-sub001/logger"
)

var rootCmd = &cobra.Command{
	Use:   "alertd",
	Short: "alertd - job alert orchestration engine",
	Long: `alertd - chat-driven job alert orchestration.

alertd manages saved job searches, schedules recurring scrape runs,
deduplicates results, and delivers new postings over a chat transport.

Available commands:
  start   - Run the engine daemon (scheduler, pipeline, workflows, server)
  alerts  - Inspect and seed saved alerts
  db      - Database statistics and diagnostics
  config  - Show and edit configuration
  version - Show version information

Examples:
  alertd start                  # Run the daemon in foreground
  alertd start --workers 8      # Run with 8 pipeline workers
  alertd alerts ls              # List all saved alerts
  alertd alerts ls --owner u1   # List one user's alerts
  alertd db stats               # Show database statistics
  alertd config show            # Show effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default ~/.alertd/config.toml)")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.AlertsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
