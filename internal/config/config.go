// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for crawl
// politeness, extraction targets, persistence and the control API.
package config

import (
	"net/url"
	"strings"
	"time"
)

// Config holds the full configuration for a crawl session and the
// control API server.
type Config struct {
	// Target site
	BaseURL     string `mapstructure:"base_url" yaml:"base_url"`         // Scheme and host of the target site
	ListingPath string `mapstructure:"listing_path" yaml:"listing_path"` // Path of the team listing page
	UserAgent   string `mapstructure:"user_agent" yaml:"user_agent"`     // HTTP User-Agent header
	Referer     string `mapstructure:"referer" yaml:"referer"`           // HTTP Referer header, defaults to BaseURL+"/"

	// Politeness
	RatePerMinute float64       `mapstructure:"rate_per_minute" yaml:"rate_per_minute"` // Default per-domain request budget
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`           // Concurrent player fetches per batch
	BatchPause    time.Duration `mapstructure:"batch_pause" yaml:"batch_pause"`         // Pause between player batches
	TeamPause     time.Duration `mapstructure:"team_pause" yaml:"team_pause"`           // Minimum pause between teams
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`   // Attempts per page when throttled
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`     // Sleep after an HTTP 429

	// Network
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`   // Content fetch timeout
	RobotsTimeout  time.Duration `mapstructure:"robots_timeout" yaml:"robots_timeout"`     // robots.txt fetch timeout
	RobotsCacheTTL time.Duration `mapstructure:"robots_cache_ttl" yaml:"robots_cache_ttl"` // robots.txt cache lifetime

	// Persistence
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // Path to SQLite database file

	// Control API
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"` // Address for the serve command

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"` // debug, info, warn or error
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`   // Log file path, empty for console only
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://www.covers.com",
		ListingPath:    "/sport/basketball/nba/players",
		UserAgent:      "PerformaBot/1.0 (+https://github.com/performa-app/courtside; contact@performa-app.com)",
		RatePerMinute:  20,
		BatchSize:      3,
		BatchPause:     2 * time.Second,
		TeamPause:      3 * time.Second,
		RetryAttempts:  5,
		RetryBackoff:   30 * time.Second,
		RequestTimeout: 15 * time.Second,
		RobotsTimeout:  10 * time.Second,
		RobotsCacheTTL: 24 * time.Hour,
		DatabasePath:   "./courtside.db",
		ListenAddr:     ":8080",
		LogLevel:       "info",
	}
}

// Validate checks if the configuration is valid and normalizes
// derived fields.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if !strings.HasPrefix(c.ListingPath, "/") {
		return ErrInvalidListingPath
	}

	if strings.TrimSpace(c.UserAgent) == "" {
		return ErrEmptyUserAgent
	}

	if c.RatePerMinute <= 0 {
		return ErrInvalidRate
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.RetryAttempts <= 0 {
		return ErrInvalidRetryAttempts
	}

	if c.RequestTimeout <= 0 || c.RobotsTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RobotsCacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}

	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	if c.Referer == "" {
		c.Referer = c.BaseURL + "/"
	}

	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.TeamPause < 0 {
		c.TeamPause = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}

	return nil
}

// ListingURL returns the absolute URL of the team listing page.
func (c *Config) ListingURL() string {
	return c.BaseURL + c.ListingPath
}
