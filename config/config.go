// Package config provides configuration loading and management for the
// dagflow engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dagflow configuration
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Plugins PluginsConfig `yaml:"plugins"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the workflow scheduler
type EngineConfig struct {
	// MaxConcurrentNodes is the default worker bound per execution
	// (1 = sequential)
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes"`
	// AsyncWorkers bounds detached sub-workflow invocations
	AsyncWorkers int `yaml:"async_workers"`
	// DefaultTimeout applies to executions whose workflow sets none
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// PluginsConfig configures the plugin runtime
type PluginsConfig struct {
	// ArchiveDir is the directory watched for plugin archives
	// (empty = archive loading disabled)
	ArchiveDir string `yaml:"archive_dir"`
	// StrictScan enables the naming-convention and probe checks
	StrictScan bool `yaml:"strict_scan"`
	// Whitelist names plugins the resource manager never evicts
	Whitelist []string `yaml:"whitelist"`
	// IdleTimeout is how long an unused plugin stays loaded
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// MaxPlugins caps the number of loaded plugins
	MaxPlugins int `yaml:"max_plugins"`
	// GlobalConfig is passed to every plugin's initialize
	GlobalConfig map[string]any `yaml:"global_config"`
}

// NATSConfig configures the execution event stream
type NATSConfig struct {
	// URL is the NATS server URL (empty = eventing disabled)
	URL string `yaml:"url"`
	// SubjectPrefix prefixes every published subject (default: dagflow)
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the metrics listen address (empty = disabled)
	Listen string `yaml:"listen"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is "text" or "json"
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrentNodes: 1,
			AsyncWorkers:       8,
			DefaultTimeout:     0,
		},
		Plugins: PluginsConfig{
			ArchiveDir:  "",
			IdleTimeout: 30 * time.Minute,
			MaxPlugins:  50,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "dagflow",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentNodes < 1 {
		return fmt.Errorf("engine.max_concurrent_nodes must be at least 1")
	}
	if c.Engine.AsyncWorkers < 1 {
		return fmt.Errorf("engine.async_workers must be at least 1")
	}
	if c.Plugins.MaxPlugins < 1 {
		return fmt.Errorf("plugins.max_plugins must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Engine
	if other.Engine.MaxConcurrentNodes != 0 {
		c.Engine.MaxConcurrentNodes = other.Engine.MaxConcurrentNodes
	}
	if other.Engine.AsyncWorkers != 0 {
		c.Engine.AsyncWorkers = other.Engine.AsyncWorkers
	}
	if other.Engine.DefaultTimeout != 0 {
		c.Engine.DefaultTimeout = other.Engine.DefaultTimeout
	}

	// Plugins
	if other.Plugins.ArchiveDir != "" {
		c.Plugins.ArchiveDir = other.Plugins.ArchiveDir
	}
	if other.Plugins.StrictScan {
		c.Plugins.StrictScan = true
	}
	if len(other.Plugins.Whitelist) > 0 {
		c.Plugins.Whitelist = other.Plugins.Whitelist
	}
	if other.Plugins.IdleTimeout != 0 {
		c.Plugins.IdleTimeout = other.Plugins.IdleTimeout
	}
	if other.Plugins.MaxPlugins != 0 {
		c.Plugins.MaxPlugins = other.Plugins.MaxPlugins
	}
	if len(other.Plugins.GlobalConfig) > 0 {
		c.Plugins.GlobalConfig = other.Plugins.GlobalConfig
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Metrics
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
}
