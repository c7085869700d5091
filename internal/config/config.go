// Package config provides configuration for the topology server.
//
// Config file locations (priority order):
//  1. $LABTOPO_CONFIG
//  2. ./labtopo.yaml
//  3. $XDG_CONFIG_HOME/labtopo/config.yaml
//  4. ~/.config/labtopo/config.yaml
//  5. /etc/labtopo/config.yaml
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none is
// found.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// DefaultConfig returns the defaults for a new installation.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Topology.Mode == "" {
		c.Topology.Mode = "edit"
	}
	if c.History.Limit == 0 {
		c.History.Limit = 50
	}
	if c.History.MergeWindow == 0 {
		c.History.MergeWindow = Duration(400 * time.Millisecond)
	}
	if c.Watcher.Debounce == 0 {
		c.Watcher.Debounce = Duration(500 * time.Millisecond)
	}
	if c.Status.Database == "" {
		c.Status.Database = "./labtopo-status.db"
	}
	if c.Status.ProbeInterval == 0 {
		c.Status.ProbeInterval = Duration(time.Minute)
	}
	if c.Status.ProbePorts == "" {
		c.Status.ProbePorts = "22,443,830"
	}
	if c.Status.Freshness == 0 {
		c.Status.Freshness = Duration(5 * time.Minute)
	}
	if c.Status.SSH.Timeout == 0 {
		c.Status.SSH.Timeout = Duration(10 * time.Second)
	}
}

// Validate reports configuration mistakes that should stop startup.
func (c *Config) Validate() error {
	if c.Topology.Path == "" {
		return fmt.Errorf("topology.path is required")
	}
	switch c.Topology.Mode {
	case "edit", "view":
	default:
		return fmt.Errorf("topology.mode must be edit or view, got %q", c.Topology.Mode)
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit must not be negative")
	}
	return nil
}
