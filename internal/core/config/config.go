// Package config loads batteryetl settings: built-in defaults, then an
// optional TOML file, then BATTERYETL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/neilberkman/batteryetl/internal/core/importer"
	"github.com/neilberkman/batteryetl/internal/core/persist"
	"github.com/neilberkman/batteryetl/internal/core/transform"
	"github.com/neilberkman/batteryetl/internal/core/validation"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "BATTERYETL"

type Config struct {
	Database   DatabaseConfig        `toml:"database" envconfig:"DATABASE"`
	Ingest     IngestConfig          `toml:"ingest" envconfig:"INGEST"`
	Retry      RetryConfig           `toml:"retry" envconfig:"RETRY"`
	Validation validation.Thresholds `toml:"validation" envconfig:"VALIDATION"`
	OCV        OCVConfig             `toml:"ocv" envconfig:"OCV"`
	Logging    LoggingConfig         `toml:"logging" envconfig:"LOGGING"`
	Experiment ExperimentConfig      `toml:"experiment" envconfig:"EXPERIMENT"`
}

type DatabaseConfig struct {
	Path        string        `toml:"path" split_words:"true"`
	BusyTimeout time.Duration `toml:"busy_timeout" split_words:"true" validate:"gte=0"`
}

type IngestConfig struct {
	NominalCapacity  float64 `toml:"nominal_capacity" split_words:"true" validate:"gte=0"`
	SampleInterval   float64 `toml:"sample_interval" split_words:"true" validate:"gte=0"`
	BatchSize        int     `toml:"batch_size" split_words:"true" validate:"gt=0"`
	InsertChunk      int     `toml:"insert_chunk" split_words:"true" validate:"gt=0,lte=2978"`
	BatchesPerSecond float64 `toml:"batches_per_second" split_words:"true" validate:"gte=0"`
	ReferenceStep    int     `toml:"reference_step" split_words:"true" validate:"gte=0"`
}

// RetryConfig mirrors persist.RetryPolicy
type RetryConfig struct {
	MaxAttempts  int           `toml:"max_attempts" split_words:"true" validate:"gte=1"`
	InitialDelay time.Duration `toml:"initial_delay" split_words:"true" validate:"gte=0"`
	MaxDelay     time.Duration `toml:"max_delay" split_words:"true" validate:"gtefield=InitialDelay"`
	Multiplier   float64       `toml:"multiplier" split_words:"true" validate:"gte=1"`
}

type OCVConfig struct {
	Mode          string  `toml:"mode" split_words:"true" validate:"oneof=terminal stabilized"`
	WindowSeconds float64 `toml:"window_seconds" split_words:"true" validate:"gte=0"`
	MaxDeltaVolts float64 `toml:"max_delta_volts" split_words:"true" validate:"gte=0"`
}

type LoggingConfig struct {
	Level    string `toml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format   string `toml:"format" split_words:"true" validate:"oneof=json text"`
	Output   string `toml:"output" split_words:"true" validate:"oneof=stderr file both"`
	FilePath string `toml:"file_path" split_words:"true" validate:"required_unless=Output stderr"`
}

type ExperimentConfig struct {
	NameTemplate string `toml:"name_template" split_words:"true" validate:"required"`
}

// Dir is ~/.config/batteryetl, or the working directory when there is no home
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "batteryetl")
}

// DefaultPath is the config file read when no path is given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Default returns the built-in configuration
func Default() *Config {
	retry := persist.DefaultRetryPolicy()
	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(Dir(), "batteryetl.db"),
			BusyTimeout: 5 * time.Second,
		},
		Ingest: IngestConfig{
			BatchSize:   1000,
			InsertChunk: 500,
		},
		Retry: RetryConfig{
			MaxAttempts:  retry.MaxAttempts,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
			Multiplier:   retry.Multiplier,
		},
		Validation: validation.DefaultThresholds(),
		OCV: OCVConfig{
			Mode:          string(transform.OCVTerminal),
			WindowSeconds: 60,
			MaxDeltaVolts: 0.001,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(Dir(), "batteryetl.log"),
		},
		Experiment: ExperimentConfig{
			NameTemplate: importer.DefaultNameTemplate,
		},
	}
}

// Load reads the TOML file at path over the defaults, applies environment
// overrides and validates the result. A missing file at the default path
// is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every field constraint
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// RetryPolicy converts the retry section for the persistence engine
func (c *Config) RetryPolicy() persist.RetryPolicy {
	return persist.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
	}
}

// OCVCriterion converts the ocv section for the transform
func (c *Config) OCVCriterion() transform.OCVCriterion {
	return transform.OCVCriterion{
		Mode:     transform.OCVMode(c.OCV.Mode),
		Window:   c.OCV.WindowSeconds,
		MaxDelta: c.OCV.MaxDeltaVolts,
	}
}
