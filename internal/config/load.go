package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var defineFlagsOnce sync.Once

// Load loads configuration with the following precedence:
// 1. Command line flags
// 2. Environment variables
// 3. Config file
// 4. Default values
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("list-mutator")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/list-mutator/")
		v.AddConfigPath("$HOME/.list-mutator")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Env vars: LIMU_DATABASE_MAX_OPEN_CONNS etc.
	v.SetEnvPrefix("LIMU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.graphiql_enabled", true)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("observability.service_name", "list-mutator")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
}

// flagBindings maps flag names to viper keys.
var flagBindings = map[string]string{
	"db-driver":      "database.driver",
	"db-dsn":         "database.dsn",
	"db-path":        "database.path",
	"port":           "server.port",
	"graphiql":       "server.graphiql_enabled",
	"log-level":      "observability.logging.level",
	"log-format":     "observability.logging.format",
	"otlp-endpoint":  "observability.otlp.endpoint",
	"otlp-protocol":  "observability.otlp.protocol",
	"tracing":        "observability.tracing_enabled",
	"metrics":        "observability.metrics_enabled",
}

func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("config", "", "Path to config file")
		pflag.String("db-driver", "memory", "Storage driver (memory, sqlite3, mysql, badger)")
		pflag.String("db-dsn", "", "Database DSN for sqlite3 and mysql drivers")
		pflag.String("db-path", "", "Data directory for the badger driver")
		pflag.Int("port", 8080, "HTTP server port")
		pflag.Bool("graphiql", true, "Enable the GraphiQL UI")
		pflag.String("log-level", "info", "Log level (debug, info, warn, error)")
		pflag.String("log-format", "json", "Log format (json, text)")
		pflag.String("otlp-endpoint", "", "OTLP exporter endpoint")
		pflag.String("otlp-protocol", "grpc", "OTLP protocol (grpc, http/protobuf)")
		pflag.Bool("tracing", false, "Enable trace export")
		pflag.Bool("metrics", true, "Enable the Prometheus /metrics endpoint")
	})
}

// bindChangedFlagsToViper binds only flags the user actually set, so
// flag defaults do not shadow env vars or config file values.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if key, ok := flagBindings[f.Name]; ok {
			_ = v.BindPFlag(key, f)
		}
	})
}
