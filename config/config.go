// Package config handles loading and validating the global configuration:
// the network knobs that govern fetching, retention and the optional
// ambient status server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level global configuration, loaded from
// $HOME/.hys/config.yaml.
type Config struct {
	MaxFeedSizeMB     float64      `yaml:"max_feed_size_mb"`
	FetchIntervalDays uint         `yaml:"fetch_interval_days"`
	DayStartHour      int          `yaml:"day_start_hour"`
	RetentionDays     uint         `yaml:"retention_days"`
	MaxItemsPerFeed   uint         `yaml:"max_items_per_feed"`
	Status            StatusConfig `yaml:"status"`
}

// StatusConfig configures the optional /healthz + /metrics server started
// only in watch mode.
type StatusConfig struct {
	Enabled bool        `yaml:"enabled"`
	Addr    string      `yaml:"addr"`
	Auth    *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig holds Basic Auth credentials for the status server.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads config from the given YAML file path, applies environment
// overrides, defaults, and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a Config entirely from environment variables and
// defaults, for environments with no config file.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	cfg.ApplyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays environment variables, non-empty values only.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HYS_MAX_FEED_SIZE_MB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MaxFeedSizeMB = f
		}
	}
	if v := os.Getenv("HYS_FETCH_INTERVAL_DAYS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.FetchIntervalDays = uint(n)
		}
	}
	if v := os.Getenv("HYS_DAY_START_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DayStartHour = n
		}
	}
	if v := os.Getenv("HYS_RETENTION_DAYS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.RetentionDays = uint(n)
		}
	}
	if v := os.Getenv("HYS_MAX_ITEMS_PER_FEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MaxItemsPerFeed = uint(n)
		}
	}
	if v := os.Getenv("HYS_STATUS_ADDR"); v != "" {
		c.Status.Addr = v
	}
	statusUser := os.Getenv("HYS_STATUS_USERNAME")
	statusPass := os.Getenv("HYS_STATUS_PASSWORD")
	if statusUser != "" || statusPass != "" {
		c.Status.Auth = &AuthConfig{Username: statusUser, Password: statusPass}
	}
}

func (c *Config) applyDefaults() {
	if c.MaxFeedSizeMB == 0 {
		c.MaxFeedSizeMB = 0.2
	}
	if c.FetchIntervalDays == 0 {
		c.FetchIntervalDays = 1
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 50
	}
	if c.MaxItemsPerFeed == 0 {
		c.MaxItemsPerFeed = 20
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":9192"
	}
}

func (c *Config) validate() error {
	if c.DayStartHour < 0 || c.DayStartHour > 23 {
		return fmt.Errorf("config: day_start_hour must be 0-23, got %d", c.DayStartHour)
	}
	if c.MaxFeedSizeMB <= 0 {
		return fmt.Errorf("config: max_feed_size_mb must be positive")
	}
	return nil
}

// HomeDir returns $HYS_HOME when set, else $HOME/.hys, creating no
// directories itself.
func HomeDir() (string, error) {
	if v := os.Getenv("HYS_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".hys"), nil
}

// DefaultConfigPaths returns the candidate config file locations, in
// priority order.
func DefaultConfigPaths() []string {
	var paths []string
	if home, err := HomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "config.yaml"), filepath.Join(home, "config.yml"))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "hys", "config.yaml"), filepath.Join(xdg, "hys", "config.yml"))
	}
	return paths
}

// FindConfig returns the first existing config path, or "" if none exist.
func FindConfig() string {
	for _, p := range DefaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
