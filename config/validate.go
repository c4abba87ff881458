package config

import (
	"github.com/Masterminds/semver/v3"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// Validate checks that the configuration is usable. Zero means "use the
// default" only where the struct docs say so; everywhere else zero and
// negative values are rejected.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if c.Engine.Workers <= 0 {
		return errors.Newf("engine.workers must be > 0, got %d", c.Engine.Workers)
	}
	if c.Engine.QueueSize <= 0 {
		return errors.Newf("engine.queue_size must be > 0, got %d", c.Engine.QueueSize)
	}
	if c.Engine.Lanes <= 0 {
		return errors.Newf("engine.lanes must be > 0, got %d", c.Engine.Lanes)
	}
	if c.Engine.SessionTimeoutMinutes <= 0 {
		return errors.Newf("engine.session_timeout_minutes must be > 0, got %d", c.Engine.SessionTimeoutMinutes)
	}
	if c.Engine.ScrapeTimeoutSeconds <= 0 {
		return errors.Newf("engine.scrape_timeout_seconds must be > 0, got %d", c.Engine.ScrapeTimeoutSeconds)
	}
	if c.Engine.RetryBackoffSeconds <= 0 {
		return errors.Newf("engine.retry_backoff_seconds must be > 0, got %d", c.Engine.RetryBackoffSeconds)
	}
	if c.Engine.OutboundRatePerSecond <= 0 {
		return errors.Newf("engine.outbound_rate_per_second must be > 0, got %f", c.Engine.OutboundRatePerSecond)
	}

	switch c.Engine.LogLevel {
	case "warn", "info", "debug":
	default:
		return errors.Newf("engine.log_level must be warn, info or debug, got %q", c.Engine.LogLevel)
	}

	// Quota limit 0 disables enforcement, negative is nonsense.
	if c.Quota.DailySearchLimit < 0 {
		return errors.Newf("quota.daily_search_limit must be >= 0, got %d", c.Quota.DailySearchLimit)
	}

	if c.Scraper.BaseURL == "" {
		return errors.New("scraper.base_url cannot be empty")
	}
	if c.Scraper.MinVersion != "" {
		if _, err := semver.NewConstraint(c.Scraper.MinVersion); err != nil {
			return errors.Wrapf(err, "scraper.min_version %q is not a valid semver constraint", c.Scraper.MinVersion)
		}
	}

	return nil
}
