package config

import (
	"fmt"
	"time"
)

// Config is the top-level incidentd configuration.
type Config struct {
	Storage    StorageConfig    `koanf:"storage"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Hypothesis HypothesisConfig `koanf:"hypothesis"`
	Approval   ApprovalConfig   `koanf:"approval"`
	Skills     SkillsConfig     `koanf:"skills"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StorageConfig locates the checkpoint database.
type StorageConfig struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// InMemory keeps state in memory; used by tests and dry runs.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites forces every write to disk before returning.
	SyncWrites bool `koanf:"sync_writes"`
}

// CheckpointConfig tunes checkpoint retention.
type CheckpointConfig struct {
	// MaxPerInvestigation caps retained checkpoints per investigation.
	MaxPerInvestigation int `koanf:"max_per_investigation"`
}

// HypothesisConfig tunes the hypothesis tree.
type HypothesisConfig struct {
	// MaxDepth is the deepest level a hypothesis may occupy.
	MaxDepth int `koanf:"max_depth"`
}

// ApprovalConfig tunes approval gates.
type ApprovalConfig struct {
	// Timeout is the window before a pending approval expires.
	Timeout time.Duration `koanf:"timeout"`
}

// SkillsConfig locates skill definitions.
type SkillsConfig struct {
	// Dir is the directory of YAML skill files loaded at startup.
	Dir string `koanf:"dir"`
}

// LoggingConfig mirrors the logging package's knobs.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig controls the OpenTelemetry exporters.
type TelemetryConfig struct {
	// Enabled turns OTLP export on.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `koanf:"endpoint"`

	// ServiceName overrides the reported service.name resource attribute.
	ServiceName string `koanf:"service_name"`

	// Insecure disables transport security to the collector.
	Insecure bool `koanf:"insecure"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	if c.Checkpoint.MaxPerInvestigation < 0 {
		return fmt.Errorf("checkpoint.max_per_investigation must not be negative")
	}
	if c.Hypothesis.MaxDepth < 1 {
		return fmt.Errorf("hypothesis.max_depth must be at least 1")
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("approval.timeout must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console (got %q)", c.Logging.Format)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
