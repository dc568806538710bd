// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration read from YAML.
type Config struct {
	// DataPath is the directory the key-value store lives in.
	DataPath string `yaml:"dataPath"`
	// MinimumFreeGB is the free-space floor for the store.
	MinimumFreeGB int `yaml:"minimumFreeGb"`
	// RelayPort is the preferred HTTP relay port.
	RelayPort int `yaml:"relayPort"`
	// Owner is the hex principal that administers the controller.
	Owner string `yaml:"owner"`
	// Providers are hex principals granted the provider role at boot.
	Providers []string `yaml:"providers"`
	// CooldownSeconds throttles per-principal submissions.
	CooldownSeconds int `yaml:"cooldownSeconds"`
	// SnapshotSeconds is the interval between state snapshots.
	SnapshotSeconds int `yaml:"snapshotSeconds"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

// Load reads and parses the YAML config at path and applies defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Owner == "" {
		return Config{}, fmt.Errorf("config %s: owner is required", path)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given. The
// owner must still be supplied by the caller.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataPath == "" {
		c.DataPath = "./data"
	}
	if c.MinimumFreeGB == 0 {
		c.MinimumFreeGB = 1
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 60
	}
	if c.SnapshotSeconds == 0 {
		c.SnapshotSeconds = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
