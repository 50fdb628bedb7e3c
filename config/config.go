package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds the execution-engine configuration. Byte-valued
// limits accept -1 to disable the ceiling; cpu, network and storage
// limits are advisory.
type SandboxConfig struct {
	Backend           string `mapstructure:"backend"`
	TimeoutMs         int    `mapstructure:"timeout_ms"`
	MonitorIntervalMs int    `mapstructure:"monitor_interval_ms"`
	FetchTimeoutMs    int    `mapstructure:"fetch_timeout_ms"`
	MemoryBytes       int64  `mapstructure:"memory_bytes"`
	CPUPercent        int    `mapstructure:"cpu_percent"`
	NetworkBytes      int64  `mapstructure:"network_bytes"`
	StorageBytes      int64  `mapstructure:"storage_bytes"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.metrics_port", 0)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.backend", "worker")
	viper.SetDefault("sandbox.timeout_ms", 30000)
	viper.SetDefault("sandbox.monitor_interval_ms", 100)
	viper.SetDefault("sandbox.fetch_timeout_ms", 10000)
	viper.SetDefault("sandbox.memory_bytes", 256*1024*1024)
	viper.SetDefault("sandbox.cpu_percent", 80)
	viper.SetDefault("sandbox.network_bytes", 10*1024*1024)
	viper.SetDefault("sandbox.storage_bytes", 50*1024*1024)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Sandbox.Backend != "worker" && c.Sandbox.Backend != "ephemeral" {
		return fmt.Errorf("unsupported sandbox.backend: %s, must be 'worker' or 'ephemeral'", c.Sandbox.Backend)
	}

	if c.Sandbox.TimeoutMs <= 0 {
		return fmt.Errorf("sandbox.timeout_ms must be positive, got: %d", c.Sandbox.TimeoutMs)
	}

	if c.Sandbox.MonitorIntervalMs <= 0 {
		return fmt.Errorf("sandbox.monitor_interval_ms must be positive, got: %d", c.Sandbox.MonitorIntervalMs)
	}

	if c.Sandbox.MemoryBytes == 0 || c.Sandbox.MemoryBytes < -1 {
		return fmt.Errorf("sandbox.memory_bytes must be positive or -1 (unlimited), got: %d", c.Sandbox.MemoryBytes)
	}

	if c.Sandbox.CPUPercent < -1 || c.Sandbox.CPUPercent == 0 || c.Sandbox.CPUPercent > 100 {
		return fmt.Errorf("sandbox.cpu_percent must be 1-100 or -1 (unlimited), got: %d", c.Sandbox.CPUPercent)
	}

	return nil
}

// Timeout returns the default execution timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutMs) * time.Millisecond
}

// MonitorInterval returns the monitor sampling period as a duration
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Sandbox.MonitorIntervalMs) * time.Millisecond
}

// FetchTimeout returns the per-call bound of the fetch bridge
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Sandbox.FetchTimeoutMs) * time.Millisecond
}
