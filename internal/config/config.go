package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the learnstate configuration
type Config struct {
	// Session store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// File watching
	Watch WatchConfig `json:"watch" mapstructure:"watch"`

	// Scheduled snapshots
	Backup BackupConfig `json:"backup" mapstructure:"backup"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// OpenTelemetry tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StoreConfig holds session store settings
type StoreConfig struct {
	Path            string `json:"path" mapstructure:"path"`
	CreateIfMissing bool   `json:"create_if_missing" mapstructure:"create_if_missing"`
	SerializeWrites bool   `json:"serialize_writes" mapstructure:"serialize_writes"`
	ValidateSchema  bool   `json:"validate_schema" mapstructure:"validate_schema"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// WatchConfig holds store watcher settings
type WatchConfig struct {
	DebounceMs int `json:"debounce_ms" mapstructure:"debounce_ms"`
}

// BackupConfig holds snapshot scheduling settings
type BackupConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // standard 5-field cron expression
	Dir      string `json:"dir" mapstructure:"dir"`
	Keep     int    `json:"keep" mapstructure:"keep"`
}

// MetricsConfig holds metrics server settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			CreateIfMissing: false,
			SerializeWrites: true,
			ValidateSchema:  true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   10,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Watch: WatchConfig{
			DebounceMs: 250,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Schedule: "0 * * * *",
			Keep:     24,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateStorePath(c.Store.Path); err != nil {
		return err
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch debounce cannot be negative")
	}

	if c.Backup.Enabled {
		if err := v.ValidateCronSchedule(c.Backup.Schedule); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup: dir is required when backups are enabled")
		}
		if c.Backup.Keep < 1 {
			return fmt.Errorf("backup: keep must be at least 1")
		}
	}

	if c.Metrics.Enabled {
		if err := v.ValidateAddr(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample_ratio must be between 0 and 1")
	}

	return nil
}
