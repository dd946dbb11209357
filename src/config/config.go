package config

import (
	"fmt"
	"os"

	"upbit-observer/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyDefaults fills in optional fields left empty in the YAML file.
func (c *Config) applyDefaults() {
	if c.Exchange.ChannelType == "" {
		c.Exchange.ChannelType = "trade"
	}
	if c.Exchange.MaxSubscriptions == 0 {
		c.Exchange.MaxSubscriptions = 200
	}
	if c.Limits.SafetyFactor == 0 {
		c.Limits.SafetyFactor = 0.9
	}
	if c.Limits.LowWaterMark == 0 {
		c.Limits.LowWaterMark = 5
	}
	if c.Limits.CacheCapacity == 0 {
		c.Limits.CacheCapacity = 256
	}
	if c.Backoff.BaseDelayMs == 0 {
		c.Backoff.BaseDelayMs = 500
	}
	if c.Backoff.MaxDelayMs == 0 {
		c.Backoff.MaxDelayMs = 30000
	}
	if c.Backoff.CooldownSeconds == 0 {
		c.Backoff.CooldownSeconds = 300
	}
	if c.Pipeline.SnapshotHistory == 0 {
		c.Pipeline.SnapshotHistory = 10
	}
	if c.Pipeline.TopN == 0 {
		c.Pipeline.TopN = 10
	}
	if c.Pipeline.RecentTradesCapacity == 0 {
		c.Pipeline.RecentTradesCapacity = 1000
	}
	if c.Pipeline.LargeTradesCapacity == 0 {
		c.Pipeline.LargeTradesCapacity = 200
	}
	if c.Pipeline.BaselineRefreshSeconds == 0 {
		c.Pipeline.BaselineRefreshSeconds = 3600
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	// Validate App configuration (Flattened)
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Exchange configuration
	if c.Exchange.RestURL == "" {
		return fmt.Errorf("exchange rest_url cannot be empty")
	}
	if c.Exchange.WsURL == "" {
		return fmt.Errorf("exchange ws_url cannot be empty")
	}
	if c.Exchange.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Exchange.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Exchange.MaxSubscriptions <= 0 {
		return fmt.Errorf("max subscriptions must be greater than 0")
	}

	// Validate Rate Limit configuration
	if c.Limits.SafetyFactor <= 0 || c.Limits.SafetyFactor > 1 {
		return fmt.Errorf("rate limit safety factor must be in (0, 1]")
	}
	if len(c.Limits.Groups) == 0 {
		return fmt.Errorf("at least one rate limit group must be configured")
	}
	for i, g := range c.Limits.Groups {
		if g.Name == "" {
			return fmt.Errorf("rate limit group %d must have a name", i)
		}
		if g.MaxPerPeriod <= 0 {
			return fmt.Errorf("rate limit group '%s' must have a positive ceiling", g.Name)
		}
		if g.PeriodSeconds <= 0 {
			return fmt.Errorf("rate limit group '%s' must have a positive period", g.Name)
		}
	}

	// Validate Pipeline configuration
	if c.Pipeline.MergeWindowMs <= 0 {
		return fmt.Errorf("merge window must be greater than 0")
	}
	if c.Pipeline.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("snapshot interval must be greater than 0")
	}
	if c.Pipeline.ActivityWindowSeconds <= 0 {
		return fmt.Errorf("activity window must be greater than 0")
	}
	if c.Pipeline.EvictionIntervalSeconds <= 0 {
		return fmt.Errorf("eviction interval must be greater than 0")
	}
	if c.Pipeline.ActiveSymbolTTLSeconds <= 0 {
		return fmt.Errorf("active symbol ttl must be greater than 0")
	}

	// Validate Storage configuration
	if c.Storage.Enabled {
		if c.Storage.DBType == "" {
			return fmt.Errorf("database type cannot be empty")
		}
		if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
		if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
