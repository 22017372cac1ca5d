// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for cronhub.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	// Bind is the listen address, e.g. "127.0.0.1:8420".
	Bind            string        `yaml:"bind"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExecutorConfig sizes the in-process execution substrate.
type ExecutorConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size,omitempty"`
	// StartsPerSecond paces attempt starts; 0 disables pacing.
	StartsPerSecond float64 `yaml:"starts_per_second,omitempty"`
}

// DispatchConfig controls trigger evaluation.
type DispatchConfig struct {
	// Timezone is an IANA name, e.g. "Europe/Paris". Empty means local.
	Timezone string `yaml:"timezone,omitempty"`
	// SweepInterval bounds how long the trigger table and the in-memory
	// cron entries may disagree.
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// TelemetryConfig enables OTLP trace export when an endpoint is set.
type TelemetryConfig struct {
	// OTLPEndpoint is a host:port for the OTLP/HTTP trace exporter.
	// Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// Default returns a runnable configuration for local use.
func Default() *Config {
	return &Config{
		Version: "1",
		Server:  ServerConfig{Bind: "127.0.0.1:8420"},
		Database: DatabaseConfig{
			Path: "cronhub.db",
		},
		Executor: ExecutorConfig{Workers: 4, QueueSize: 256},
		Dispatch: DispatchConfig{SweepInterval: 30 * time.Second},
	}
}
