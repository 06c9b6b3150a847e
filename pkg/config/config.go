package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	State   StateConfig   `mapstructure:"state"`
	HITL    HITLConfig    `mapstructure:"hitl"`
}

// ServerConfig holds backend endpoint configuration
type ServerConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"` // seconds; 0 leaves streams open
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// StateConfig holds local persistence configuration
type StateConfig struct {
	File string `mapstructure:"file"`
}

// HITLConfig holds human-in-the-loop defaults
type HITLConfig struct {
	Default bool `mapstructure:"default"`
}

var (
	mu       sync.RWMutex
	settings *Config
)

// Load unmarshals the current viper state into the global config.
// Call after viper has read its config file and bound flags.
func Load() error {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	settings = &cfg
	mu.Unlock()
	return nil
}

// Get returns the loaded configuration, falling back to defaults when
// Load has not run (tests, library use).
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()

	if settings == nil {
		return &Config{
			Server:  ServerConfig{URL: "http://localhost:8000", Timeout: 0},
			Logging: LoggingConfig{LogFile: "./.parley/system.log", Preserve: true, Level: "info"},
			State:   StateConfig{File: "./.parley/state.json"},
		}
	}
	return settings
}

// ServerTimeout returns the configured per-turn deadline.
func (c *Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.Timeout) * time.Second
}

// Reset clears the loaded config (used by tests).
func Reset() {
	mu.Lock()
	settings = nil
	mu.Unlock()
}
