// Package config loads the top-level opclient.yaml file used by the CLI,
// distinct from openprotocol.Config which configures a single connection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/opclient/internal/openprotocol"
)

// ClientConfig holds the CLI's persisted settings, read from
// ~/.opclient/opclient.yaml (or a path given with --config).
type ClientConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port,omitempty"`

	AutoReconnect          bool `yaml:"auto_reconnect,omitempty"`
	ValidateFrames         bool `yaml:"validate_frames,omitempty"`
	AllowDuplicateCommands bool `yaml:"allow_duplicate_commands,omitempty"`
	SpindleCount           *int `yaml:"spindle_count,omitempty"`

	CommandTimeout  string `yaml:"command_timeout,omitempty"`
	WatchdogTimeout string `yaml:"watchdog_timeout,omitempty"`
	HeartbeatTick   string `yaml:"heartbeat_tick,omitempty"`
	HeartbeatIdle   string `yaml:"heartbeat_idle,omitempty"`
	ReconnectBase   string `yaml:"reconnect_base,omitempty"`
	ReconnectMax    string `yaml:"reconnect_max,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// Load reads path. If the file doesn't exist, it returns a zero-value
// config with auto_reconnect/validate_frames defaulted on (no error).
func Load(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		AutoReconnect:  true,
		ValidateFrames: true,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToOpenProtocolConfig translates the YAML-friendly string durations into
// an openprotocol.Config, ready to hand to openprotocol.New.
func (c *ClientConfig) ToOpenProtocolConfig() (openprotocol.Config, error) {
	out := openprotocol.Config{
		Host:                   c.Host,
		Port:                   c.Port,
		AutoReconnect:          c.AutoReconnect,
		ValidateFrames:         c.ValidateFrames,
		AllowDuplicateCommands: c.AllowDuplicateCommands,
		SpindleCount:           c.SpindleCount,
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"command_timeout", c.CommandTimeout, &out.CommandTimeout},
		{"watchdog_timeout", c.WatchdogTimeout, &out.WatchdogTimeout},
		{"heartbeat_tick", c.HeartbeatTick, &out.HeartbeatTick},
		{"heartbeat_idle", c.HeartbeatIdle, &out.HeartbeatIdle},
		{"reconnect_base", c.ReconnectBase, &out.ReconnectBase},
		{"reconnect_max", c.ReconnectMax, &out.ReconnectMax},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return openprotocol.Config{}, fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return out, nil
}

// DefaultPath returns ~/.opclient/opclient.yaml, falling back to
// ./opclient.yaml if the home directory can't be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "opclient.yaml"
	}
	return filepath.Join(home, ".opclient", "opclient.yaml")
}
