// Package config provides configuration management for the dependency
// engine and its surrounding collaborators (scheduler, journal, snapshot
// exporter, telemetry).
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// EngineConfig holds the Scheduler collaborator's worker-pool sizing: how
// many ready tasks may run concurrently, how deep the ready queue may grow
// before the gRPC health check flips to NOT_SERVING, and how many slots are
// reserved for high-priority tasks (mirrors the teacher's PrioritySlots).
type EngineConfig struct {
	Workers            int `mapstructure:"workers"`
	ReadyQueueCapacity int `mapstructure:"ready_queue_capacity"`
	PrioritySlots      int `mapstructure:"priority_slots"`
	BacklogThreshold   int `mapstructure:"backlog_threshold"`
}

// JournalConfig configures the gorm-backed instrumentation event journal.
type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"` // mysql, postgres, sqlite, or clickhouse
	DSN       string `mapstructure:"dsn"`    // overrides Host/Port/... when set
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Database  string `mapstructure:"database"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	MaxConns  int    `mapstructure:"max_conns"`
	BatchSize int    `mapstructure:"batch_size"`
}

// SnapshotConfig configures the periodic graph-snapshot exporter. The
// export destination itself reuses StorageConfig.
type SnapshotConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// StorageConfig holds object storage configuration for the snapshot
// exporter.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// TelemetryConfig mirrors pkg/telemetry.Config's settings in the config
// file. It is loaded with the rest of Config, but cmd/depengine's serve
// command does not read it: telemetry.Init takes its settings only from
// the OTEL_* environment variables (telemetry.LoadFromEnv).
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Determine config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/depengine")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Check if it's a "file not found" error (either viper's type or os error)
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			// File specified but doesn't exist, use defaults
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow environment variables to override config
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from an io.Reader (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.workers", 5)
	v.SetDefault("engine.ready_queue_capacity", 20)
	v.SetDefault("engine.priority_slots", 2)
	v.SetDefault("engine.backlog_threshold", 100)

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.max_conns", 10)
	v.SetDefault("journal.batch_size", 50)

	// Snapshot defaults
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.interval_seconds", 30)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./snapshots")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "depengine")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine worker count must be at least 1")
	}

	if c.Journal.Enabled {
		switch c.Journal.Driver {
		case "mysql", "postgres", "postgresql", "sqlite", "clickhouse":
		default:
			return fmt.Errorf("unsupported journal driver: %s", c.Journal.Driver)
		}
	}

	// Storage config validation is delegated to the storage package,
	// invoked whenever the snapshot exporter is actually enabled.

	return nil
}
