package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Topology TopologyConfig `yaml:"topology"`
	History  HistoryConfig  `yaml:"history"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Status   StatusConfig   `yaml:"status"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TopologyConfig names the lab file and the serving mode.
type TopologyConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"` // edit or view
}

// HistoryConfig bounds undo history.
type HistoryConfig struct {
	Limit       int      `yaml:"limit"`
	MergeWindow Duration `yaml:"merge_window"`
}

// WatcherConfig tunes external-change detection.
type WatcherConfig struct {
	Disabled bool     `yaml:"disabled"`
	Debounce Duration `yaml:"debounce"`
}

// StatusConfig configures runtime-status tracking, used in view mode.
type StatusConfig struct {
	Enabled       bool      `yaml:"enabled"`
	Database      string    `yaml:"database"`
	ProbeInterval Duration  `yaml:"probe_interval"`
	ProbePorts    string    `yaml:"probe_ports"`
	Freshness     Duration  `yaml:"freshness"`
	SSH           SSHConfig `yaml:"ssh"`
}

// SSHConfig holds credentials for the interface-statistics collector.
type SSHConfig struct {
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	KeyPath  string   `yaml:"key_path"`
	Timeout  Duration `yaml:"timeout"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "400ms" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
