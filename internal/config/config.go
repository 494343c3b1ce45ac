// Package config provides configuration loading and management for the bus
// tracking bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of every environment variable read by the bridge
	EnvPrefix = "HCB"

	// PasswordEnvVar holds the account password when no other source is set
	PasswordEnvVar = EnvPrefix + "_PASSWORD"

	// DefaultIntervalSeconds is the poll period when none is configured
	DefaultIntervalSeconds = 20

	// DefaultAddress is the listen address of the HTTP API
	DefaultAddress = ":8080"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Account   AccountConfig     `yaml:"account"`
	Service   ServiceConfig     `yaml:"service,omitempty"`
	Polling   PollingConfig     `yaml:"polling,omitempty"`
	Server    ServerConfig      `yaml:"server,omitempty"`
	History   *HistoryConfig    `yaml:"history,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// AccountConfig identifies the parent account on the tracking service
type AccountConfig struct {
	SchoolCode string `yaml:"schoolCode" validate:"required"`
	Username   string `yaml:"username" validate:"required"`

	// Password is accepted inline for local setups. Prefer PasswordFile.
	Password string `yaml:"password,omitempty"`

	// PasswordFile is the path to a file containing only the password
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// ServiceConfig tunes the SOAP client
type ServiceConfig struct {
	// Endpoint overrides the service URL
	Endpoint string `yaml:"endpoint,omitempty" validate:"omitempty,url"`

	// Timeout bounds a single request, e.g. "15s"
	Timeout string `yaml:"timeout,omitempty"`

	// MaxRetries caps attempts on transient failures
	MaxRetries *uint `yaml:"maxRetries,omitempty"`
}

// PollingConfig controls the scheduler
type PollingConfig struct {
	// IntervalSeconds is the tick period. Defaults to 20.
	IntervalSeconds *int `yaml:"intervalSeconds,omitempty" validate:"omitempty,gt=0"`

	// Timezone is an IANA name. Defaults to the process local timezone.
	Timezone string `yaml:"timezone,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`

	// CORSAllowedOrigins enables CORS for browser dashboards
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins,omitempty" validate:"omitempty,dive,required"`
}

// HistoryConfig enables the arrival history log
type HistoryConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validator.New().Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Service.Timeout != "" {
		if _, err := time.ParseDuration(c.Service.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("service.timeout must be a valid duration (e.g., '15s'): %w", err))
		}
	}
	if c.Polling.Timezone != "" {
		if _, err := time.LoadLocation(c.Polling.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("polling.timezone: %w", err))
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// GetPassword returns the account password using the following priority:
// 1. The inline password
// 2. The content of PasswordFile, trimmed
// 3. The HCB_PASSWORD environment variable
func (a *AccountConfig) GetPassword() (string, error) {
	if a.Password != "" {
		return a.Password, nil
	}

	if a.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(a.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", a.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no account password configured: set password, passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetTimeout returns the request timeout, or zero when unset
func (s *ServiceConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetInterval returns the tick period
func (p *PollingConfig) GetInterval() time.Duration {
	if p.IntervalSeconds == nil {
		return DefaultIntervalSeconds * time.Second
	}
	return time.Duration(*p.IntervalSeconds) * time.Second
}

// Location returns the timezone used for all date and clock comparisons
func (p *PollingConfig) Location() *time.Location {
	if p.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetAddress returns the listen address, using ":8080" if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultAddress
	}
	return s.Address
}
