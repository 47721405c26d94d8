// Package config loads the optional broker settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds broker settings. Command-line flags override every field.
type Config struct {
	// CorePath overrides the content server binary lookup, like ENG_CORE_PATH.
	CorePath string `yaml:"core_path"`

	// UIPath overrides the front end binary lookup, like ENG_UI_PATH.
	UIPath string `yaml:"ui_path"`

	// DelegationTimeout bounds the call to an already running broker.
	DelegationTimeout time.Duration `yaml:"delegation_timeout"`

	// HandshakeTimeout bounds how long the content server has to announce its port.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// LogLevel is one of zap's level names. Defaults to "info".
	LogLevel string `yaml:"log_level"`

	Daemon   bool `yaml:"daemon"`
	TestMode bool `yaml:"test_mode"`
}

func Default() *Config {
	return &Config{
		DelegationTimeout: 3 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		LogLevel:          "info",
	}
}

// DefaultPath is agent.yaml under the user's config directory, or "" if that is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "eng", "agent.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DelegationTimeout <= 0 {
		return fmt.Errorf("delegation_timeout must be positive, got %s", c.DelegationTimeout)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
