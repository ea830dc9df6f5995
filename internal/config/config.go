// Package config handles configuration loading for the sync client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ServerConfig locates the session server.
type ServerConfig struct {
	// URL is the server base URL; http(s) is upgraded to ws(s) for the
	// socket connection.
	URL string `yaml:"url"`
	// Token authenticates the socket handshake.
	Token string `yaml:"token"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	// Level is the console log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// FileLevel is the file log level; empty means Level.
	FileLevel string `yaml:"file_level"`
	// File enables rotating file output at the given path.
	File string `yaml:"file"`
	JSON bool   `yaml:"json"`
	// Components restricts logging to the named components.
	Components []string `yaml:"components"`
}

// SyncConfig tunes the reducer's bounded stores.
type SyncConfig struct {
	IndexCapacity     int `yaml:"index_capacity"`
	StoreCapacity     int `yaml:"store_capacity"`
	SidechainCapacity int `yaml:"sidechain_capacity"`
}

// Config is the complete client configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Sync   SyncConfig   `yaml:"sync"`
	// StatePath overrides where the sync position is persisted.
	StatePath string `yaml:"state_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{URL: "https://api.happy.engineering"},
		Log:    LogConfig{Level: "info"},
	}
}

// DefaultConfigPath returns the configuration file path for the current
// platform, honoring the HAPPYRC environment override.
func DefaultConfigPath() string {
	if envPath := os.Getenv("HAPPYRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".happyrc")
}

// DefaultStatePath returns where the sync position is persisted when the
// config does not override it.
func DefaultStatePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".happy", "sync-state.json")
}

// Load reads and parses the configuration file at path. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, filling unset fields from the
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = Default().Server.URL
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath()
	}
	// Token may also come from the environment so it stays out of the file.
	if cfg.Server.Token == "" {
		cfg.Server.Token = os.Getenv("HAPPY_TOKEN")
	}
	return cfg, nil
}
