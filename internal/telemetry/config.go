package telemetry

import (
	"fmt"
	"time"
)

// Config holds telemetry configuration.
type Config struct {
	// Enabled turns OTLP export on.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `koanf:"endpoint"`

	// ServiceName is the reported service.name resource attribute.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is the reported service.version resource attribute.
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables transport security to the collector.
	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0, 1]; 1 samples everything.
	SampleRate float64 `koanf:"sample_rate"`

	// MetricInterval is the metric export period.
	MetricInterval time.Duration `koanf:"metric_interval"`

	// ShutdownTimeout bounds provider shutdown when the caller's context has
	// no deadline.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns telemetry defaults. Export is off by default; a
// collector endpoint is a deployment decision.
func NewDefaultConfig() *Config {
	return &Config{
		ServiceName:     "incidentd",
		SampleRate:      1.0,
		MetricInterval:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in [0, 1], got %v", c.SampleRate)
	}
	if c.MetricInterval < 0 {
		return fmt.Errorf("metric_interval must not be negative")
	}
	return nil
}

// applyDefaults fills zero values before use.
func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "incidentd"
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
