// cashpipe is the savings-product pipeline engine CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/config"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/pipeline"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/storage/sqlite"
)

var (
	jsonOutput bool
	verbose    bool
	debugFlag  bool
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:           "cashpipe",
	Short:         "Savings-product pipeline engine",
	Long:          "cashpipe ingests scraped savings-product feeds, resolves FRNs, deduplicates\nunder FSCS rules, and publishes a canonical product table with a full audit trail.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		if verbose {
			config.Set("verbose", true)
			_ = os.Setenv("PIPELINE_VERBOSE", "true")
		}
		if debugFlag {
			config.Set("debug", true)
			_ = os.Setenv("PIPELINE_DEBUG", "true")
		}
		if dbPath != "" {
			config.Set("db", dbPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "INFO-level logging")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "DEBUG-level logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides DATABASE_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the store at the configured location, creating parent
// directories as needed.
func openStore(ctx context.Context) (storage.Store, error) {
	path := config.DatabasePath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return sqlite.New(ctx, path)
}

func newLogger() *logging.Logger {
	return logging.New("cashpipe", config.GetString("audit.output"))
}

func engineOptions(stopAfter string, emitter pipeline.Emitter) pipeline.Options {
	return pipeline.Options{
		Atomic:       config.GetBool("atomic"),
		DataQuality:  config.GetBool("data-quality"),
		DataQualityV: config.GetBool("data-quality-verbose"),
		StopAfter:    stopAfter,
		StageTimeout: config.GetDuration("stage-timeout"),
		LockPath:     config.DatabasePath() + ".run.lock",
		Emitter:      emitter,
		Audit: audit.Options{
			Enabled:         config.GetBool("audit.enabled"),
			Level:           audit.ParseLevel(config.GetString("audit.level")),
			PersistRejected: config.GetBool("audit.persist-rejected"),
		},
	}
}

func outputJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"error": "failed to marshal JSON: %v"}`, err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

// expandGlobs resolves --files arguments, passing non-glob paths through.
func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			files = append(files, pattern)
			continue
		}
		files = append(files, matches...)
	}
	return files, nil
}
