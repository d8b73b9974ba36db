// Package config provides configuration loading and management for zarrdomain.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"zarrdomain/pkg/fetch"
	"zarrdomain/pkg/transform"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Level is the resolution level headers are reconstructed for
		Level int `yaml:"level" mapstructure:"level"`

		// ScaleUnit is the physical unit of header spacing
		ScaleUnit string `yaml:"scaleUnit" mapstructure:"scaleUnit"`
	} `yaml:"processing" mapstructure:"processing"`

	// Cache parameters
	Cache struct {
		// Dir is where remote transform files are written
		Dir string `yaml:"dir" mapstructure:"dir"`

		// Expiration is how long a fetched resource stays cached
		Expiration time.Duration `yaml:"expiration" mapstructure:"expiration"`

		// CleanupInterval is how often expired entries are purged
		CleanupInterval time.Duration `yaml:"cleanupInterval" mapstructure:"cleanupInterval"`
	} `yaml:"cache" mapstructure:"cache"`

	// Storage parameters
	Storage struct {
		// Region is the AWS region of the S3 buckets
		Region string `yaml:"region" mapstructure:"region"`

		// Anonymous reads public buckets without credentials
		Anonymous bool `yaml:"anonymous" mapstructure:"anonymous"`

		// HTTPTimeout bounds each HTTP fetch
		HTTPTimeout time.Duration `yaml:"httpTimeout" mapstructure:"httpTimeout"`
	} `yaml:"storage" mapstructure:"storage"`

	// Templates maps a template name to its template-to-CCF transforms.
	// Names are case-sensitive, so viper (which folds key case) skips it.
	Templates map[string][]transform.StepSpec `yaml:"templates" mapstructure:"-"`

	// Registration parameters
	Registration struct {
		// Layouts are the individual-stage files per pipeline version range
		Layouts []transform.Layout `yaml:"layouts" mapstructure:"layouts"`

		// Command is the ANTs point transform executable used for warps
		Command string `yaml:"command" mapstructure:"command"`
	} `yaml:"registration" mapstructure:"registration"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level" mapstructure:"level"`

		// Format is "text" or "json"
		Format string `yaml:"format" mapstructure:"format"`
	} `yaml:"logging" mapstructure:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Level = 3
	cfg.Processing.ScaleUnit = "millimeter"

	cfg.Cache.Dir = filepath.Join(os.TempDir(), "zarrdomain-cache")
	cfg.Cache.Expiration = fetch.DefaultExpiration
	cfg.Cache.CleanupInterval = fetch.DefaultCleanupInterval

	cfg.Storage.Region = "us-west-2"
	cfg.Storage.Anonymous = true
	cfg.Storage.HTTPTimeout = 30 * time.Second

	cfg.Templates = map[string][]transform.StepSpec{}

	cfg.Registration.Layouts = transform.DefaultLayouts()
	cfg.Registration.Command = transform.DefaultPointsCommand

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	if c.Processing.Level < 0 {
		return fmt.Errorf("processing.level must be non-negative, got %d", c.Processing.Level)
	}
	if c.Processing.ScaleUnit == "" {
		return fmt.Errorf("processing.scaleUnit must be set")
	}
	for name, steps := range c.Templates {
		if len(steps) == 0 {
			return fmt.Errorf("template %q has no transforms", name)
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
