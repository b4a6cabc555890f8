// Package config loads configuration from files, env vars, and flags,
// and validates it.
package config

import (
	"fmt"
	"time"

	"list-mutator/internal/observability"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// DatabaseConfig holds storage backend parameters.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, sqlite3, mysql, or badger
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"` // badger data directory
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GraphiQLEnabled bool          `mapstructure:"graphiql_enabled"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`
	OTLP             OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Protocol string        `mapstructure:"protocol"` // grpc or http/protobuf
	Insecure bool          `mapstructure:"insecure"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// OTelConfig converts the observability section to the exporter
// configuration used at startup.
func (c *Config) OTelConfig() observability.Config {
	return observability.Config{
		ServiceName:      c.Observability.ServiceName,
		ServiceVersion:   c.Observability.ServiceVersion,
		Environment:      c.Observability.Environment,
		TraceSampleRatio: c.Observability.TraceSampleRatio,
		OTLP: observability.OTLPConfig{
			Endpoint: c.Observability.OTLP.Endpoint,
			Protocol: c.Observability.OTLP.Protocol,
			Insecure: c.Observability.OTLP.Insecure,
			Timeout:  c.Observability.OTLP.Timeout,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "badger":
	case "sqlite3", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite3, mysql, badger, got %q", c.Database.Driver)
	}
	switch c.Observability.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("observability.logging.level must be one of debug, info, warn, error, got %q", c.Observability.Logging.Level)
	}
	switch c.Observability.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("observability.logging.format must be json or text, got %q", c.Observability.Logging.Format)
	}
	if r := c.Observability.TraceSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability.trace_sample_ratio must be between 0 and 1, got %v", r)
	}
	switch c.Observability.OTLP.Protocol {
	case "", "grpc", "http", "http/protobuf":
	default:
		return fmt.Errorf("observability.otlp.protocol must be grpc or http/protobuf, got %q", c.Observability.OTLP.Protocol)
	}
	return nil
}
