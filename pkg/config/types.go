package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfreeman451/lokiwatch/pkg/alerts"
)

// Duration is a wrapper around time.Duration for JSON unmarshaling.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// Config is the immutable configuration snapshot for the monitor. It is
// loaded once at startup and never mutated afterwards.
type Config struct {
	DataDir          string                 `json:"data_dir"`                  // e.g., /loki
	MaxSizeGB        float64                `json:"max_size_gb"`               // allowed size of the data directory
	ThresholdPercent int                    `json:"cleanup_threshold_percent"` // usage percent that triggers cleanup
	CheckInterval    Duration               `json:"check_interval"`            // how often to measure usage
	LokiAPIURL       string                 `json:"loki_api_url"`              // base URL of the Loki backend
	MetricsDir       string                 `json:"metrics_output_dir"`        // directory for the .prom file sink
	MetricsPort      int                    `json:"metrics_port"`              // port for the HTTP exposition endpoint
	CleanupQuery     string                 `json:"cleanup_query,omitempty"`   // label selector scoping delete requests
	HistoryDBPath    string                 `json:"history_db_path,omitempty"` // empty disables the cleanup audit store
	Webhooks         []alerts.WebhookConfig `json:"webhooks,omitempty"`
}

const bytesPerGB = 1 << 30

// MaxSizeBytes returns the configured maximum size in bytes.
func (c *Config) MaxSizeBytes() int64 {
	return int64(c.MaxSizeGB * float64(bytesPerGB))
}

// ThresholdBytes returns the byte count above which cleanup fires. Fixed
// for the process lifetime.
func (c *Config) ThresholdBytes() int64 {
	return c.MaxSizeBytes() * int64(c.ThresholdPercent) / 100
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errNoDataDir
	}

	if c.MaxSizeGB <= 0 {
		return errInvalidMaxSize
	}

	if c.ThresholdPercent <= 0 || c.ThresholdPercent > 100 {
		return errInvalidThreshold
	}

	if time.Duration(c.CheckInterval) <= 0 {
		return errInvalidInterval
	}

	if c.LokiAPIURL == "" {
		return errNoAPIURL
	}

	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return errInvalidPort
	}

	return nil
}
