// Package config loads the application's YAML configuration and persists the
// small cross-launch device state (the bonded peripheral identifier).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	SpiceFile    string `yaml:"spice_file"` // seed CSV, loaded on first run
	ImageDir     string `yaml:"image_dir"`  // recipe image storage
	StatePath    string `yaml:"state_path"` // device identifier state file
	LogLevel     string `yaml:"log_level"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "qspice")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "qspice")

	return &Config{
		DatabasePath: filepath.Join(dataDir, "qspice.db"),
		SpiceFile:    filepath.Join(dataDir, "spices.csv"),
		ImageDir:     filepath.Join(dataDir, "images"),
		StatePath:    filepath.Join(dataDir, "device.yaml"),
		LogLevel:     "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DatabasePath = expandTilde(cfg.DatabasePath)
	cfg.SpiceFile = expandTilde(cfg.SpiceFile)
	cfg.ImageDir = expandTilde(cfg.ImageDir)
	cfg.StatePath = expandTilde(cfg.StatePath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}

	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
