// Package config loads client configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the sync client.
type Config struct {
	// ServerURL is the base URL of the health-assistant service.
	ServerURL string `mapstructure:"server_url"`

	// DataDir holds the local SQLite substrate.
	DataDir string `mapstructure:"data_dir"`

	// Token is the bearer token attached to requests, empty when
	// unauthenticated.
	Token string `mapstructure:"token"`

	// PushSource selects the push payload source: "ledger" (default) or
	// "server_unsynced".
	PushSource string `mapstructure:"push_source"`

	// SyncInterval is the scheduler's time between rounds.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from an optional healthsync.yaml (in the current
// directory or ~/.config/healthsync) and from HEALTHSYNC_* environment
// variables, with env taking precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://localhost:8000")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("push_source", "ledger")
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("request_timeout", 120*time.Second)
	v.SetDefault("log_level", "INFO")

	v.SetConfigName("healthsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "healthsync"))
	}

	v.SetEnvPrefix("HEALTHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env carry the day.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url must not be empty")
	}
	switch c.PushSource {
	case "ledger", "server_unsynced":
	default:
		return fmt.Errorf("push_source must be %q or %q, got %q", "ledger", "server_unsynced", c.PushSource)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("log_level must be DEBUG, INFO, WARN or ERROR, got %q", c.LogLevel)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".healthsync"
	}
	return filepath.Join(home, ".healthsync")
}
