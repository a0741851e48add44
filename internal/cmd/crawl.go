package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/performa-app/courtside/internal/crawler"
)

// crawlCmd runs a single crawl to completion and prints the result.
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl and print its result as JSON",
	Long: `Crawl walks the league listing, every team roster and every
player page once, stores the results in the database, and prints the
run's outcome to stdout as JSON. The command exits non-zero when the
run fails.`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Handle --show-config: display current configuration and exit
	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return showCurrentConfig(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, logCloser, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runner := crawler.NewRunner(cfg, store, log)
	defer runner.Close()

	result, err := runner.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to run crawl: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))

	if result.Status != crawler.RunStatusComplete {
		return fmt.Errorf("crawl failed: %s", result.Message)
	}
	return nil
}
