// ABOUTME: Configuration file handling: data directory, worker count, sync settings
// ABOUTME: JSON at $XDG_CONFIG_HOME/feedradar/config.json with environment overrides

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment overrides.
const (
	EnvDataDir   = "FEEDRADAR_DATA_DIR"
	EnvCharmHost = "CHARM_HOST"
)

// Config stores feedradar configuration.
type Config struct {
	// DataDir is the root directory for data storage: feedradar.db and the
	// attachment cache. Supports ~ expansion. Defaults to
	// ~/.local/share/feedradar.
	DataDir string `json:"data_dir,omitempty"`

	// Workers bounds concurrent feed downloads.
	Workers int `json:"workers,omitempty"`

	// SyncEnabled turns on the Charm sync engine.
	SyncEnabled bool `json:"sync_enabled"`

	// CharmHost overrides the Charm server.
	CharmHost string `json:"charm_host,omitempty"`

	// PerHostRPS spaces requests to the same host. Zero disables pacing.
	PerHostRPS float64 `json:"per_host_rps,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{Workers: DefaultWorkers, CharmHost: DefaultCharmHost}
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetDBPath returns the SQLite database path inside the data directory.
func (c *Config) GetDBPath() string {
	return filepath.Join(c.GetDataDir(), DBFilename)
}

// GetWorkers returns the download concurrency, defaulting to DefaultWorkers.
func (c *Config) GetWorkers() int {
	if c.Workers <= 0 {
		return DefaultWorkers
	}
	return c.Workers
}

// GetCharmHost returns the Charm server host.
func (c *Config) GetCharmHost() string {
	if c.CharmHost == "" {
		return DefaultCharmHost
	}
	return c.CharmHost
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "feedradar", "config.json")
}

// Load reads config from disk, writing the defaults on first run, and
// applies environment overrides.
func Load() (*Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg := Default()
		if saveErr := cfg.Save(); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save default config: %v\n", saveErr)
		}
		cfg.applyEnv()
		return cfg, nil
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
	if host := os.Getenv(EnvCharmHost); host != "" {
		c.CharmHost = host
	}
}

// Save writes config to disk atomically.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(GetConfigPath(), data)
}

// atomicWrite writes data to a temp file in the target directory and renames
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPerms); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// defaultDataDir returns the standard XDG data directory for feedradar.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "feedradar")
}
