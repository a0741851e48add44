// Package cmd provides the command-line interface for Courtside.
// It handles command parsing, configuration loading, and wiring of
// storage, the crawl runner and the control API.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/performa-app/courtside/internal/config"
	"github.com/performa-app/courtside/internal/logging"
	"github.com/performa-app/courtside/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "courtside",
	Short: "A polite crawler for NBA team and player statistics",
	Long: `Courtside walks the configured site from the league listing
through every team roster and player page, honoring robots.txt and
per-domain rate limits, and stores the collected data in SQLite.

Use "courtside crawl" for a one-shot crawl, or "courtside serve" to
run the control API that triggers crawls and serves the data.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultConfig()

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./courtside.yml)")

	// Configuration management flags
	rootCmd.PersistentFlags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Target site flags
	rootCmd.PersistentFlags().String("base-url", defaults.BaseURL, "Scheme and host of the target site")
	rootCmd.PersistentFlags().String("listing-path", defaults.ListingPath, "Path of the team listing page")
	rootCmd.PersistentFlags().StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header")

	// Politeness flags
	rootCmd.PersistentFlags().Float64P("rate", "r", defaults.RatePerMinute, "Per-domain request budget in requests per minute")
	rootCmd.PersistentFlags().IntP("batch-size", "b", defaults.BatchSize, "Concurrent player fetches per batch")
	rootCmd.PersistentFlags().Duration("batch-pause", defaults.BatchPause, "Pause between player batches")
	rootCmd.PersistentFlags().Duration("team-pause", defaults.TeamPause, "Minimum pause between teams")
	rootCmd.PersistentFlags().Int("retry-attempts", defaults.RetryAttempts, "Retries per page after an HTTP 429")
	rootCmd.PersistentFlags().Duration("retry-backoff", defaults.RetryBackoff, "Sleep before retrying after an HTTP 429")
	rootCmd.PersistentFlags().DurationP("timeout", "t", defaults.RequestTimeout, "HTTP request timeout")
	rootCmd.PersistentFlags().Duration("robots-timeout", defaults.RobotsTimeout, "robots.txt fetch timeout")

	// Persistence and serving flags
	rootCmd.PersistentFlags().StringP("database", "d", defaults.DatabasePath, "Path to SQLite database file")
	rootCmd.PersistentFlags().String("listen", defaults.ListenAddr, "Listen address for the serve command")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel, "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-file", defaults.LogFile, "Log file path (empty for console only)")

	// Bind flags to viper
	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"base_url", "base-url"},
		{"listing_path", "listing-path"},
		{"user_agent", "user-agent"},
		{"rate_per_minute", "rate"},
		{"batch_size", "batch-size"},
		{"batch_pause", "batch-pause"},
		{"team_pause", "team-pause"},
		{"retry_attempts", "retry-attempts"},
		{"retry_backoff", "retry-backoff"},
		{"request_timeout", "timeout"},
		{"robots_timeout", "robots-timeout"},
		{"database_path", "database"},
		{"listen_addr", "listen"},
		{"log_level", "log-level"},
		{"log_file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.PersistentFlags().Lookup(bind.flagName)); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("courtside")
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvPrefix("COURTSIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers the config file, environment variables and flags
// over the defaults. The result is not yet validated, so --show-config
// can display whatever was loaded.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func showCurrentConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	// Add header comment to the output
	fmt.Printf("# Current Courtside Configuration\n")
	fmt.Printf("# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("# Configuration file search paths: ./courtside.yml\n")
	fmt.Printf("# Environment variables prefix: COURTSIDE_\n\n")

	fmt.Print(string(yamlData))

	// Add footer with additional information
	fmt.Printf("\n# Configuration source priority:\n")
	fmt.Printf("# 1. Command-line arguments (highest priority)\n")
	fmt.Printf("# 2. Environment variables (COURTSIDE_ prefix)\n")
	fmt.Printf("# 3. Configuration file (courtside.yml)\n")
	fmt.Printf("# 4. Default values (lowest priority)\n")

	return nil
}

// newLogger builds the structured logger from the logging settings.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
}

// openStorage creates the database directory if needed and opens the
// SQLite store.
func openStorage(cfg *config.Config) (*storage.SQLiteStorage, error) {
	dbDir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}
