package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfig tests loading default config
func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if cfg == nil {
		t.Fatal("Config is nil")
	}
}

// TestLoadConfigDefaults tests default values are set
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Address == "" {
		t.Error("Address should not be empty")
	}
	if cfg.Database.Path == "" {
		t.Error("Database path should not be empty")
	}
	if cfg.Realtime.HeartbeatInterval <= 0 {
		t.Error("Heartbeat interval should be positive")
	}
	if cfg.Jobs.ScrapeInterval != 6*time.Hour {
		t.Errorf("Scrape interval default should be 6h, got %s", cfg.Jobs.ScrapeInterval)
	}
}

// TestLoadConfigFromFile tests YAML file loading
func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
address: ":9090"
redis:
  enabled: true
  addr: "redis:6379"
jobs:
  reindex_interval: 1h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Address != ":9090" {
		t.Errorf("Address override not applied: %s", cfg.Address)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis should be enabled")
	}
	if cfg.Jobs.ReindexInterval != time.Hour {
		t.Errorf("Reindex interval override not applied: %s", cfg.Jobs.ReindexInterval)
	}
}

// TestEnvOverrides tests environment variable overrides
func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETHUB_ADDR", ":7070")
	t.Setenv("MARKETHUB_REDIS_ADDR", "cache:6379")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Address != ":7070" {
		t.Errorf("Env address override not applied: %s", cfg.Address)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" {
		t.Errorf("Env redis override not applied: %+v", cfg.Redis)
	}
}

// TestValidate tests validation failures
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"empty address", func(c *ServerConfig) { c.Address = "" }},
		{"bad db type", func(c *ServerConfig) { c.Database.Type = "oracle" }},
		{"mysql without dsn", func(c *ServerConfig) { c.Database.Type = "mysql"; c.Database.DSN = "" }},
		{"jwt without secret", func(c *ServerConfig) { c.Auth.TrustAll = false; c.Auth.JWTSecret = "" }},
		{"bad purge hour", func(c *ServerConfig) { c.Jobs.PurgeHour = 24 }},
		{"zero batch size", func(c *ServerConfig) { c.Jobs.RecommendBatchSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// TestConfigString tests String() does not leak secrets
func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "supersecret"
	s := cfg.String()
	if s == "" {
		t.Error("String() should not return empty string")
	}
	for i := 0; i+len("supersecret") <= len(s); i++ {
		if s[i:i+len("supersecret")] == "supersecret" {
			t.Error("String() leaked the JWT secret")
		}
	}
}
