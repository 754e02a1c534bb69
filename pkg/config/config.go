// Package config loads and validates the service configuration. Configuration
// comes from a YAML file with sensible defaults for every field, so an empty
// file (or no file at all) yields a runnable development setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/restage/restage/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Database  DatabaseConfig    `yaml:"database"`
	Retry     RetryConfig       `yaml:"retry"`
	Wait      WaitConfig        `yaml:"wait"`
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"-"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// Addr is the listen address of the JSON API.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables the metrics listener.
	MetricsAddr string `yaml:"metricsAddr" validate:"omitempty,hostname_port"`

	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" validate:"required"`

	MaxOpenConns    int      `yaml:"maxOpenConns" validate:"min=1"`
	MaxIdleConns    int      `yaml:"maxIdleConns" validate:"min=1"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
}

// RetryConfig configures the retry service.
type RetryConfig struct {
	// MaxAge is how old an execution may be and still be retried.
	MaxAge Duration `yaml:"maxAge"`
}

// WaitConfig configures the wait engine.
type WaitConfig struct {
	// LeaseDuration is how long a callback-processing claim stays exclusive.
	LeaseDuration Duration `yaml:"leaseDuration"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			MetricsAddr:     "127.0.0.1:9090",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Path:            "restage.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Retry: RetryConfig{
			MaxAge: Duration(30 * 24 * time.Hour),
		},
		Wait: WaitConfig{
			LeaseDuration: Duration(10 * time.Minute),
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads configuration from a YAML file layered over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the struct-tag constraints, the duration bounds, and
// delegates the telemetry section to its own validator.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Retry.MaxAge.Std() < time.Hour {
		return fmt.Errorf("invalid configuration: retry.maxAge must be at least 1h, got %v", c.Retry.MaxAge.Std())
	}
	if c.Wait.LeaseDuration.Std() < time.Second {
		return fmt.Errorf("invalid configuration: wait.leaseDuration must be at least 1s, got %v", c.Wait.LeaseDuration.Std())
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid telemetry configuration: %w", err)
		}
	}
	return nil
}
