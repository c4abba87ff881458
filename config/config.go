// Package config is the layered configuration for the alert engine:
// viper defaults, a TOML file, and ALERTD_-prefixed environment
// overrides, in ascending precedence.
package config

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Engine   EngineConfig   `mapstructure:"engine" toml:"engine"`
	Quota    QuotaConfig    `mapstructure:"quota" toml:"quota"`
	Scraper  ScraperConfig  `mapstructure:"scraper" toml:"scraper"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// EngineConfig tunes the orchestration core.
type EngineConfig struct {
	Workers               int     `mapstructure:"workers" toml:"workers"`                                 // pipeline worker pool size
	QueueSize             int     `mapstructure:"queue_size" toml:"queue_size"`                           // pipeline request queue depth
	Lanes                 int     `mapstructure:"lanes" toml:"lanes"`                                     // per-user-ordered event lanes
	SessionTimeoutMinutes int     `mapstructure:"session_timeout_minutes" toml:"session_timeout_minutes"` // conversation idle expiry
	ScrapeTimeoutSeconds  int     `mapstructure:"scrape_timeout_seconds" toml:"scrape_timeout_seconds"`   // per-scrape deadline
	RetryBackoffSeconds   int     `mapstructure:"retry_backoff_seconds" toml:"retry_backoff_seconds"`     // base backoff between scrape retries
	OutboundRatePerSecond float64 `mapstructure:"outbound_rate_per_second" toml:"outbound_rate_per_second"`
	LogLevel              string  `mapstructure:"log_level" toml:"log_level"` // warn, info, debug; hot-reloadable
}

// QuotaConfig configures one-time-search limits.
type QuotaConfig struct {
	DailySearchLimit int `mapstructure:"daily_search_limit" toml:"daily_search_limit"` // 0 disables enforcement
}

// ScraperConfig configures the external scraping engine.
type ScraperConfig struct {
	BaseURL    string `mapstructure:"base_url" toml:"base_url"`
	APIKey     string `mapstructure:"api_key" toml:"api_key"`
	MinVersion string `mapstructure:"min_version" toml:"min_version"` // semver constraint for webhook callers
}

// Default values shared between SetDefaults and flag help text.
const (
	DefaultPort           = 8790
	DefaultWorkers        = 4
	DefaultDatabasePath   = "alertd.db"
	DefaultSessionTimeout = 30 // minutes
)
