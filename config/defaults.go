package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath)

	// Server defaults
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Engine defaults
	v.SetDefault("engine.workers", DefaultWorkers)
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.lanes", 8)
	v.SetDefault("engine.session_timeout_minutes", DefaultSessionTimeout)
	v.SetDefault("engine.scrape_timeout_seconds", 180)
	v.SetDefault("engine.retry_backoff_seconds", 5)
	v.SetDefault("engine.outbound_rate_per_second", 25.0)
	v.SetDefault("engine.log_level", "info")

	// Quota defaults
	v.SetDefault("quota.daily_search_limit", 5)

	// Scraper defaults
	v.SetDefault("scraper.base_url", "http://localhost:8791")
	v.SetDefault("scraper.min_version", "")
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables
// so they never need to live in the config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("scraper.api_key", "ALERTD_SCRAPER_API_KEY")
}
