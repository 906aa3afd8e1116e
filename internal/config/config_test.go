package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if cfg.ListenAddr != ":8099" {
		t.Errorf("Unexpected listen address %q", cfg.ListenAddr)
	}
	if cfg.TickInterval() != 30*time.Second {
		t.Errorf("Expected 30s tick interval, got %v", cfg.TickInterval())
	}
	if cfg.DatabasePath == "" {
		t.Error("Expected a database path")
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Errorf("Expected data directory created: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TickSeconds != 30 {
		t.Errorf("Expected default tick seconds, got %d", cfg.TickSeconds)
	}
}

func TestLoadOverlay(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "momentum.yaml")
	overlay := "listen_addr: \":9000\"\ntick_seconds: 60\nredis_url: \"redis://localhost:6379\"\n"
	if err := os.WriteFile(path, []byte(overlay), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("Expected overlaid listen address, got %q", cfg.ListenAddr)
	}
	if cfg.TickInterval() != time.Minute {
		t.Errorf("Expected 60s tick interval, got %v", cfg.TickInterval())
	}
	if cfg.RedisURL == "" {
		t.Error("Expected redis url from overlay")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("MOMENTUM_REDIS_URL", "redis://env:6379")
	t.Setenv("MOMENTUM_SESSION_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RedisURL != "redis://env:6379" {
		t.Errorf("Expected env redis url, got %q", cfg.RedisURL)
	}
	if cfg.SessionSecret != "env-secret" {
		t.Errorf("Expected env session secret, got %q", cfg.SessionSecret)
	}
}

func TestInvalidIntervalFallsBack(t *testing.T) {
	cfg := &Config{TickSeconds: -5}
	if cfg.TickInterval() != 30*time.Second {
		t.Errorf("Expected fallback interval, got %v", cfg.TickInterval())
	}
}
