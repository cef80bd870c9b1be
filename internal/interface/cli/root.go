package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/internal/core/config"
	"github.com/neilberkman/batteryetl/internal/core/db"
	"github.com/neilberkman/batteryetl/internal/core/logging"
	"github.com/neilberkman/batteryetl/internal/core/metrics"
)

var (
	dbPath       string
	configPath   string
	logLevel     string
	metricsFile  string
	outputFormat string
	versionInfo  string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	collector *metrics.Metrics
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "batteryetl",
	Short: "Battery cycler data ingestion",
	Long: `batteryetl - ingest, validate and store battery cycler exports

Parses step and detail exports from the cycler, derives SOC, C-rate, OCV
and temperature statistics, runs plausibility checks and stores the
experiment in a local SQLite database with verified measurement counts.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", filepath.Join(config.Dir(), "batteryetl.db"), "Database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path after the run")
}

// setup loads configuration and the logger. The --db flag wins over the
// config file only when given explicitly.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, logCloser, err = logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	collector = metrics.New()
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if metricsFile != "" && collector != nil {
		if err := collector.WriteTextfile(metricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

func openDB() (*db.DB, error) {
	database, err := db.New(cfg.Database.Path,
		db.WithBusyTimeout(cfg.Database.BusyTimeout),
		db.WithInsertChunk(cfg.Ingest.InsertChunk),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}
