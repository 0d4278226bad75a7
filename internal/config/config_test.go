package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"max_retries":   func(c *Config) { c.Executor.MaxRetries = 2 },
		"chunk_size":    func(c *Config) { c.Delivery.ChunkSize = 64 << 10 },
		"archive_level": func(c *Config) { c.Delivery.ArchiveLevel = 0 },
		"window":        func(c *Config) { c.Retention.Window = 0 },
		"jobs.store":    func(c *Config) { c.Jobs.Store = "sqlite" },
		"kafka.brokers": func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), name) {
				t.Fatalf("expected error to mention %q, got %v", name, err)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: "9090"
executor:
  workers: 3
  rescan_interval: 5s
tiers:
  pro:
    max_file_size: 1048576
    daily: 7
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Server.HTTPPort)
	}
	if cfg.Executor.PoolSize() != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Executor.PoolSize())
	}
	if cfg.Executor.RescanInterval != 5*time.Second {
		t.Fatalf("expected 5s rescan, got %s", cfg.Executor.RescanInterval)
	}
	if cfg.Executor.MaxRetries != 1 {
		t.Fatalf("expected default max retries to survive, got %d", cfg.Executor.MaxRetries)
	}
	if cfg.Delivery.ArchiveLevel != 3 {
		t.Fatalf("expected default archive level, got %d", cfg.Delivery.ArchiveLevel)
	}
	if cfg.Tiers["pro"].Daily != 7 {
		t.Fatalf("expected pro daily limit 7, got %d", cfg.Tiers["pro"].Daily)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `
executor:
  max_retries: 5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPoolSizeDefaultsToCPUCount(t *testing.T) {
	if got := (Executor{}).PoolSize(); got < 1 {
		t.Fatalf("expected at least one worker, got %d", got)
	}
}
