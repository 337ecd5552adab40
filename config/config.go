// Package config handles cartd configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level cartd configuration.
type Config struct {
	Listen    string                    `yaml:"listen"`
	Browser   BrowserConfig             `yaml:"browser"`
	Store     StoreConfig               `yaml:"store"`
	Cache     CacheConfig               `yaml:"cache"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
}

// BrowserConfig controls the shared Chrome lifecycle.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	Remote           string        `yaml:"remote"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// StoreConfig configures the SQLite database and credential sealing.
type StoreConfig struct {
	Path string `yaml:"path"`
	// SealingKey is a 64-character hex string (32 bytes) used to seal
	// credential blobs at rest.
	SealingKey string `yaml:"sealing_key"`
}

// CacheConfig controls the store-items price cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// PlatformConfig holds per-platform admission limits.
type PlatformConfig struct {
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Cooldown      time.Duration `yaml:"cooldown"`
	MaxFailures   int           `yaml:"max_failures"`
}

// Load reads a YAML configuration file, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8321"
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Store.Path == "" {
		c.Store.Path = "cartd.db"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 30 * time.Minute
	}
	if c.Platforms == nil {
		c.Platforms = make(map[string]PlatformConfig)
	}
	for _, name := range []string{"ubereats", "doordash", "instacart"} {
		if _, ok := c.Platforms[name]; !ok {
			c.Platforms[name] = PlatformConfig{}
		}
	}
	for name, p := range c.Platforms {
		if p.MinDelay <= 0 {
			p.MinDelay = 5 * time.Second
		}
		if p.MaxConcurrent <= 0 {
			p.MaxConcurrent = 1
		}
		if p.Cooldown <= 0 {
			p.Cooldown = 30 * time.Minute
		}
		if p.MaxFailures <= 0 {
			p.MaxFailures = 3
		}
		c.Platforms[name] = p
	}
}

// Validate checks platform limits and the sealing key format.
func (c *Config) Validate() error {
	for name, p := range c.Platforms {
		if p.MaxConcurrent < 1 {
			return fmt.Errorf("config: platform %s: max_concurrent must be >= 1", name)
		}
		if p.MaxFailures < 1 {
			return fmt.Errorf("config: platform %s: max_failures must be >= 1", name)
		}
		if p.MinDelay < 0 || p.Cooldown < 0 {
			return fmt.Errorf("config: platform %s: negative duration", name)
		}
	}
	if c.Store.SealingKey != "" && len(c.Store.SealingKey) != 64 {
		return fmt.Errorf("config: store.sealing_key must be 64 hex characters")
	}
	return nil
}
