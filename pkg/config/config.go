// Package config loads chatsync configuration from a JSON file with
// CHATSYNC_* environment variable overrides applied on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// TransportConfig tunes the push-transport reconnect policy.
type TransportConfig struct {
	BaseDelayMS int `env:"CHATSYNC_TRANSPORT_BASE_DELAY_MS" json:"base_delay_ms"`
	MaxAttempts int `env:"CHATSYNC_TRANSPORT_MAX_ATTEMPTS"  json:"max_attempts"`
}

// BaseDelay returns the linear backoff unit as a duration.
func (c TransportConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// SyncConfig tunes the polling cadences and the merge window.
type SyncConfig struct {
	HistoryIntervalMS   int `env:"CHATSYNC_SYNC_HISTORY_INTERVAL_MS"   json:"history_interval_ms"`
	DirectoryIntervalMS int `env:"CHATSYNC_SYNC_DIRECTORY_INTERVAL_MS" json:"directory_interval_ms"`
	ReconcileWindowMS   int `env:"CHATSYNC_SYNC_RECONCILE_WINDOW_MS"   json:"reconcile_window_ms"`
}

// HistoryInterval returns the history poll cadence as a duration.
func (c SyncConfig) HistoryInterval() time.Duration {
	return time.Duration(c.HistoryIntervalMS) * time.Millisecond
}

// DirectoryInterval returns the directory refresh cadence as a duration.
func (c SyncConfig) DirectoryInterval() time.Duration {
	return time.Duration(c.DirectoryIntervalMS) * time.Millisecond
}

// ReconcileWindow returns the duplicate-collapse window as a duration.
func (c SyncConfig) ReconcileWindow() time.Duration {
	return time.Duration(c.ReconcileWindowMS) * time.Millisecond
}

// Config is the full chatsync configuration.
type Config struct {
	APIBase string `env:"CHATSYNC_API_BASE" json:"api_base"`
	WSBase  string `env:"CHATSYNC_WS_BASE"  json:"ws_base"`
	Token   string `env:"CHATSYNC_TOKEN"    json:"token,omitempty"`
	UserID  string `env:"CHATSYNC_USER_ID"  json:"user_id,omitempty"`

	Transport TransportConfig `json:"transport"`
	Sync      SyncConfig      `json:"sync"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		APIBase: "http://localhost:4000",
		WSBase:  "ws://localhost:4000",
		Transport: TransportConfig{
			BaseDelayMS: 1500,
			MaxAttempts: 5,
		},
		Sync: SyncConfig{
			HistoryIntervalMS:   3000,
			DirectoryIntervalMS: 30000,
			ReconcileWindowMS:   120000,
		},
	}
}

// LoadConfig reads the config file at path if it exists, then applies
// environment overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the config as indented JSON, creating the directory if
// needed.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks the invariants the engine depends on.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return errors.New("api_base is required")
	}
	if c.WSBase == "" {
		return errors.New("ws_base is required")
	}
	if c.Transport.MaxAttempts < 0 {
		return errors.New("transport.max_attempts must not be negative")
	}
	return nil
}
