// Package config loads engine configuration from YAML files with sane
// defaults for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	// Driver is one of "sqlite", "mysql", or "memory".
	Driver string `yaml:"driver"`
	// DSN is the driver-specific connection string. For sqlite it is the
	// database file path.
	DSN string `yaml:"dsn"`
	// SnapshotDir enables file snapshot mirroring when non-empty.
	SnapshotDir string `yaml:"snapshot_dir"`
}

// EngineConfig tunes the execution loop.
type EngineConfig struct {
	CheckpointInterval int      `yaml:"checkpoint_interval"`
	MaxRetries         int      `yaml:"max_retries"`
	StepTimeout        Duration `yaml:"step_timeout"`
	RetryBaseDelay     Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      Duration `yaml:"retry_max_delay"`
}

// Duration wraps time.Duration so YAML values can be written in the usual
// Go syntax ("30s", "500ms") instead of raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML decodes either a duration string or an integer nanosecond
// count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is provided: an
// on-disk SQLite database with snapshot mirroring alongside it.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:      "sqlite",
			DSN:         "tasks.db",
			SnapshotDir: "task_snapshots",
		},
		Engine: EngineConfig{
			CheckpointInterval: 5,
			MaxRetries:         3,
		},
	}
}

// Load reads and validates a YAML configuration file. Fields omitted from
// the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine would reject.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "mysql", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage driver %q requires a dsn", c.Storage.Driver)
	}
	if c.Engine.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be at least 1, got %d", c.Engine.CheckpointInterval)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.StepTimeout < 0 {
		return fmt.Errorf("step_timeout cannot be negative")
	}
	if (c.Engine.RetryBaseDelay == 0) != (c.Engine.RetryMaxDelay == 0) {
		return fmt.Errorf("retry_base_delay and retry_max_delay must be set together")
	}
	if c.Engine.RetryBaseDelay > 0 && c.Engine.RetryMaxDelay < c.Engine.RetryBaseDelay {
		return fmt.Errorf("retry_max_delay must be at least retry_base_delay")
	}
	return nil
}
