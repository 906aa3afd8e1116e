package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the momentum service configuration
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DatabasePath  string `yaml:"database_path"`
	RedisURL      string `yaml:"redis_url"`
	SessionSecret string `yaml:"session_secret"`
	TickSeconds   int    `yaml:"tick_seconds"`
	SimSeconds    int    `yaml:"sim_seconds"`
	DataDir       string `yaml:"-"`
}

// TickInterval returns the scheduler interval
func (c *Config) TickInterval() time.Duration {
	if c.TickSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TickSeconds) * time.Second
}

// SimInterval returns the emotional simulator interval
func (c *Config) SimInterval() time.Duration {
	if c.SimSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SimSeconds) * time.Second
}

// Default returns the default configuration, resolving the data directory
// from XDG_DATA_HOME or ~/.local/share.
func Default() (*Config, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	dataDir := filepath.Join(dataHome, "momentum")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Config{
		ListenAddr:   ":8099",
		DatabasePath: filepath.Join(dataDir, "momentum.db"),
		TickSeconds:  30,
		SimSeconds:   30,
		DataDir:      dataDir,
	}, nil
}

// Load returns the default configuration overlaid with the YAML file at
// path, when one exists. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnv(cfg), nil
}

// applyEnv applies environment overrides for deployment settings
func applyEnv(cfg *Config) *Config {
	if url := os.Getenv("MOMENTUM_REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if secret := os.Getenv("MOMENTUM_SESSION_SECRET"); secret != "" {
		cfg.SessionSecret = secret
	}
	return cfg
}
