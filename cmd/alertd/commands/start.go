package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/config"
	"github.com/mmazurovsky/jobs-alerts-sub001/flow"
	"github.com/mmazurovsky/jobs-alerts-sub001/ledger"
	"github.com/mmazurovsky/jobs-alerts-sub001/logger"
	"github.com/mmazurovsky/jobs-alerts-sub001/notify"
	"github.com/mmazurovsky/jobs-alerts-sub001/pipeline"
	"github.com/mmazurovsky/jobs-alerts-sub001/quota"
	"github.com/mmazurovsky/jobs-alerts-sub001/schedule"
	"github.com/mmazurovsky/jobs-alerts-sub001/scrape"
	"github.com/mmazurovsky/jobs-alerts-sub001/server"
	"github.com/mmazurovsky/jobs-alerts-sub001/session"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// StartCmd runs the engine daemon in the foreground.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: sym.Alert + " Run the alert engine daemon",
	Long: sym.Alert + ` Run the alert engine in foreground mode.

The daemon will:
- Rebuild scheduler timers from the saved alerts in the database
- Start the pipeline worker pool for scrape executions
- Start the conversational workflow router on the inbound event bus
- Serve the results webhook, health endpoint, and operator console
- Run until interrupted (Ctrl+C) with graceful shutdown

Example:
  alertd start                # Defaults from config
  alertd start --workers 8    # Override pipeline worker count
  alertd start --port 9000    # Override ops server port`,
	RunE: runStart,
}

func init() {
	StartCmd.Flags().Int("workers", 0, "Pipeline worker count (overrides config)")
	StartCmd.Flags().Int("port", 0, "Ops server port (overrides config)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Engine.Workers = workers
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	applyLogLevel(cfg.Engine.LogLevel)

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	// Stores over the shared connection.
	searches := alert.NewSearchStore(database)
	delivered := ledger.NewStore(database)
	executions := pipeline.NewExecutionStore(database)
	quotaTracker := quota.NewTracker(database, cfg.Quota.DailySearchLimit)

	// Event buses: chat transport in, notifications out.
	inbound := bus.NewWithBuffer[bus.InboundEvent](cfg.Engine.QueueSize, logger.Logger)
	outbound := bus.NewWithBuffer[bus.OutboundEvent](cfg.Engine.QueueSize, logger.Logger)

	sessions := session.NewStore(time.Duration(cfg.Engine.SessionTimeoutMinutes)*time.Minute, logger.Logger)
	sessions.StartJanitor(time.Minute)

	scrapeClient := scrape.NewClient(
		cfg.Scraper.BaseURL,
		cfg.Scraper.APIKey,
		time.Duration(cfg.Engine.ScrapeTimeoutSeconds)*time.Second,
		logger.Logger,
	)

	runner := pipeline.NewRunner(scrapeClient, searches, delivered, executions, outbound, nil, pipeline.Config{
		Workers:       cfg.Engine.Workers,
		QueueSize:     cfg.Engine.QueueSize,
		ScrapeTimeout: time.Duration(cfg.Engine.ScrapeTimeoutSeconds) * time.Second,
		RetryBackoff:  time.Duration(cfg.Engine.RetryBackoffSeconds) * time.Second,
	}, logger.Logger)

	scheduler := schedule.NewScheduler(searches, runner, logger.Logger)

	router := flow.NewRouter(sessions, searches, scheduler, runner, scrapeClient, quotaTracker,
		inbound, outbound, cfg.Engine.Lanes, logger.Logger)

	srv := server.New(server.Config{
		Port:              cfg.Server.Port,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MinScraperVersion: cfg.Scraper.MinVersion,
	}, runner, sessions, searches, executions, inbound, logger.Logger)
	runner.SetBroadcaster(srv)

	// The ops server doubles as the development chat transport.
	dispatcher := notify.NewDispatcher(srv, outbound, cfg.Engine.OutboundRatePerSecond, logger.Logger)

	runner.Start()
	if err := scheduler.Start(); err != nil {
		runner.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	router.Start()
	dispatcher.Start()
	srv.Start()

	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	watcher := startConfigWatcher(dispatcher, cfgPath)

	fmt.Printf("%s Alert engine started\n", sym.Alert)
	fmt.Printf("  Database:   %s\n", cfg.Database.Path)
	fmt.Printf("  Workers:    %d\n", cfg.Engine.Workers)
	fmt.Printf("  Scheduled:  %d alert(s)\n", scheduler.Count())
	fmt.Printf("  Ops server: http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Alert)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.Alert)

	// Reverse order of startup: stop intake first, drain work last.
	if watcher != nil {
		watcher.Stop()
	}
	srv.Shutdown(10 * time.Second)
	dispatcher.Stop()
	router.Stop()
	scheduler.Stop()
	runner.Stop()
	sessions.StopJanitor()
	inbound.Close()
	outbound.Close()

	fmt.Printf("%s Alert engine stopped\n", sym.Alert)
	return nil
}

// loadConfig resolves the effective configuration, honoring an explicit
// --config path over the default lookup chain.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// startConfigWatcher hot-reloads the settings that are safe to change at
// runtime: log level and outbound send rate. Everything else needs a
// restart. Returns nil when the config file does not exist yet.
func startConfigWatcher(dispatcher *notify.Dispatcher, path string) *config.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable", "error", err)
		return nil
	}
	watcher.OnReload(func(cfg *config.Config) error {
		applyLogLevel(cfg.Engine.LogLevel)
		dispatcher.SetRate(cfg.Engine.OutboundRatePerSecond)
		logger.Infow("Configuration reloaded",
			"log_level", cfg.Engine.LogLevel,
			"outbound_rate", cfg.Engine.OutboundRatePerSecond,
		)
		return nil
	})
	watcher.Start()
	return watcher
}

func applyLogLevel(level string) {
	switch level {
	case "warn":
		logger.SetLevel(zapcore.WarnLevel)
	case "debug":
		logger.SetLevel(zapcore.DebugLevel)
	case "info":
		logger.SetLevel(zapcore.InfoLevel)
	}
}
