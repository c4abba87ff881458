package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmazurovsky/jobs-alerts-sub001/config"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/ledger"
	"github.com/mmazurovsky/jobs-alerts-sub001/pipeline"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the engine database",
	Long: sym.DB + ` db — Manage engine database operations

Examples:
  alertd db stats    # Show alert, delivery and execution statistics`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display alert counts, delivered-posting ledger size, and execution outcomes",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	var totalAlerts, activeAlerts, uniqueOwners int
	err = database.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(active), 0),
			COUNT(DISTINCT owner_id)
		FROM saved_searches
	`).Scan(&totalAlerts, &activeAlerts, &uniqueOwners)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query alert stats: %w", err)
	}

	deliveredCount, err := ledger.NewStore(database).Count()
	if err != nil {
		return fmt.Errorf("failed to query ledger stats: %w", err)
	}

	execCounts, err := pipeline.NewExecutionStore(database).CountByStatus()
	if err != nil {
		return fmt.Errorf("failed to query execution stats: %w", err)
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:      %s\n", cfg.Database.Path)
	fmt.Printf("Saved Alerts:       %d (%d active)\n", totalAlerts, activeAlerts)
	fmt.Printf("Unique Owners:      %d\n", uniqueOwners)
	fmt.Printf("Delivered Postings: %d\n", deliveredCount)
	fmt.Println()

	fmt.Printf("%s Executions\n", sym.Search)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Running:   %d\n", execCounts[pipeline.StatusRunning])
	fmt.Printf("Completed: %d\n", execCounts[pipeline.StatusCompleted])
	fmt.Printf("Failed:    %d\n", execCounts[pipeline.StatusFailed])
	fmt.Printf("Discarded: %d\n", execCounts[pipeline.StatusDiscarded])

	return nil
}
