package config

import "errors"

var (
	// ErrInvalidBaseURL is returned when base_url is not an absolute http(s) URL
	ErrInvalidBaseURL = errors.New("base_url must be an absolute http or https URL")
	// ErrInvalidListingPath is returned when listing_path does not start with /
	ErrInvalidListingPath = errors.New("listing_path must start with /")
	// ErrEmptyUserAgent is returned when user_agent is empty
	ErrEmptyUserAgent = errors.New("user_agent cannot be empty")
	// ErrInvalidRate is returned when rate_per_minute is not greater than 0
	ErrInvalidRate = errors.New("rate_per_minute must be greater than 0")
	// ErrInvalidBatchSize is returned when batch_size is not greater than 0
	ErrInvalidBatchSize = errors.New("batch_size must be greater than 0")
	// ErrInvalidRetryAttempts is returned when retry_attempts is not greater than 0
	ErrInvalidRetryAttempts = errors.New("retry_attempts must be greater than 0")
	// ErrInvalidTimeout is returned when a network timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout and robots_timeout must be greater than 0")
	// ErrInvalidCacheTTL is returned when robots_cache_ttl is not greater than 0
	ErrInvalidCacheTTL = errors.New("robots_cache_ttl must be greater than 0")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
)
