// Package config loads the engine's YAML configuration file.
//
// Everything has a sensible default so the server boots with no file
// at all; the commerce access token is the one setting production
// cannot skip.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Commerce CommerceConfig `yaml:"commerce"`
	Gacha    GachaConfig    `yaml:"gacha"`
	Invite   InviteConfig   `yaml:"invite"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CommerceConfig struct {
	BaseURL        string `yaml:"base_url"`
	AccessToken    string `yaml:"access_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call commerce timeout.
func (c CommerceConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type GachaConfig struct {
	SelectionWindowDays int    `yaml:"selection_window_days"`
	TimeZone            string `yaml:"time_zone"`
}

// SelectionWindow returns how long a won card stays selectable.
func (c GachaConfig) SelectionWindow() time.Duration {
	days := c.SelectionWindowDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// Location resolves the reference zone for daily draw limits.
func (c GachaConfig) Location() (*time.Location, error) {
	name := c.TimeZone
	if name == "" {
		name = "Asia/Tokyo" // the shop operates on JST
	}
	return time.LoadLocation(name)
}

type InviteConfig struct {
	Points  int64 `yaml:"points"`
	MaxUses int   `yaml:"max_uses"`
	TTLDays int   `yaml:"ttl_days"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "gacha.db"},
		Commerce: CommerceConfig{TimeoutSeconds: 10},
		Gacha:    GachaConfig{SelectionWindowDays: 14},
		Invite:   InviteConfig{Points: 100, MaxUses: 10},
	}
}

// Load reads the config file at path. A missing file returns defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
