// Package config pkg/config/config.go loads monitor configuration from
// defaults, an optional JSON file, and environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var (
	errInvalidDuration  = errors.New("invalid duration")
	errNoDataDir        = errors.New("data directory is required")
	errInvalidMaxSize   = errors.New("max size must be positive")
	errInvalidThreshold = errors.New("cleanup threshold must be between 1 and 100")
	errInvalidInterval  = errors.New("check interval must be positive")
	errNoAPIURL         = errors.New("loki api url is required")
	errInvalidPort      = errors.New("metrics port must be between 1 and 65535")
	errInvalidEnvValue  = errors.New("invalid environment value")
)

// Environment variables understood by the monitor. All are optional.
const (
	EnvDataDir          = "LOKI_DATA_DIR"
	EnvMaxSizeGB        = "MAX_SIZE_GB"
	EnvThresholdPercent = "CLEANUP_THRESHOLD_PERCENT"
	EnvCheckInterval    = "CHECK_INTERVAL" // seconds
	EnvLokiAPIURL       = "LOKI_API_URL"
	EnvMetricsDir       = "METRICS_OUTPUT_DIR"
	EnvMetricsPort      = "METRICS_PORT"
	EnvCleanupQuery     = "CLEANUP_QUERY"
	EnvHistoryDBPath    = "HISTORY_DB_PATH"
)

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		DataDir:          "/loki",
		MaxSizeGB:        5,
		ThresholdPercent: 80,
		CheckInterval:    Duration(300 * time.Second),
		LokiAPIURL:       "http://loki:3100",
		MetricsDir:       "/tmp/monitoring",
		MetricsPort:      9091,
		CleanupQuery:     `{job="container_monitoring"}`,
	}
}

// LoadFile is a generic helper that loads a JSON file from path into
// the struct pointed to by dst.
func LoadFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}

	return nil
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (if non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvDataDir); ok {
		c.DataDir = v
	}

	if v, ok := os.LookupEnv(EnvMaxSizeGB); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, EnvMaxSizeGB, v)
		}

		c.MaxSizeGB = f
	}

	if v, ok := os.LookupEnv(EnvThresholdPercent); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, EnvThresholdPercent, v)
		}

		c.ThresholdPercent = n
	}

	if v, ok := os.LookupEnv(EnvCheckInterval); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, EnvCheckInterval, v)
		}

		c.CheckInterval = Duration(time.Duration(n) * time.Second)
	}

	if v, ok := os.LookupEnv(EnvLokiAPIURL); ok {
		c.LokiAPIURL = v
	}

	if v, ok := os.LookupEnv(EnvMetricsDir); ok {
		c.MetricsDir = v
	}

	if v, ok := os.LookupEnv(EnvMetricsPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, EnvMetricsPort, v)
		}

		c.MetricsPort = n
	}

	if v, ok := os.LookupEnv(EnvCleanupQuery); ok {
		c.CleanupQuery = v
	}

	if v, ok := os.LookupEnv(EnvHistoryDBPath); ok {
		c.HistoryDBPath = v
	}

	return nil
}
