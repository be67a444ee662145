package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/esload/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile      string
	envFile      string
	logLevel     string
	logFormat    string
	batchSize    int
	fetchSize    int
	sleepSeconds float64
)

var rootCmd = &cobra.Command{
	Use:   "esload",
	Short: "SQL to Elasticsearch batch loader",
	Long: `A CLI tool that streams the rows of a SQL query into an Elasticsearch
index in bounded batches.

Features:
  - Server-side cursors for PostgreSQL, streaming reads for MySQL,
    SQL Server and SQLite
  - Bulk indexing with per-document failure reporting and bounded retries
  - Idempotent index creation with an explicit mapping
  - Field exclusion and renaming per job
  - Single document indexing and raw query search`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFile(envFile)
	},
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "esload.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Path to a .env file loaded before the configuration (ignored if missing)")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	// Processing overrides
	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0,
		"Override batch size (documents per bulk request)")
	rootCmd.PersistentFlags().IntVar(&fetchSize, "fetch-size", 0,
		"Override fetch size (rows per cursor fetch)")
	rootCmd.PersistentFlags().Float64Var(&sleepSeconds, "sleep", 0,
		"Override sleep seconds between batches")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel     string
	LogFormat    string
	BatchSize    int
	FetchSize    int
	SleepSeconds float64
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:     logLevel,
		LogFormat:    logFormat,
		BatchSize:    batchSize,
		FetchSize:    fetchSize,
		SleepSeconds: sleepSeconds,
	}
}

// loadConfig reads the config file and applies the global CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	o := GetCLIOverrides()
	cfg.ApplyOverrides(o.LogLevel, o.LogFormat, o.BatchSize, o.FetchSize, o.SleepSeconds)
	return cfg, nil
}
