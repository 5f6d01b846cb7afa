package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Data.DataDir == "" {
		t.Error("default data dir is empty")
	}
	if cfg.CDN.DefaultEnvironment != "production" {
		t.Errorf("default environment = %q", cfg.CDN.DefaultEnvironment)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q", cfg.Logging.Level)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simimager.yaml")
	content := `
data:
  data_dir: /srv/simimager
  cache_dir: /srv/simimager-cache
github:
  base_url: https://github.example.com/api/v3
cdn:
  default_environment: test
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.DataDir != "/srv/simimager" {
		t.Errorf("data dir = %q", cfg.Data.DataDir)
	}
	if cfg.GitHub.BaseURL != "https://github.example.com/api/v3" {
		t.Errorf("github base url = %q", cfg.GitHub.BaseURL)
	}
	if cfg.CDN.DefaultEnvironment != "test" {
		t.Errorf("environment = %q", cfg.CDN.DefaultEnvironment)
	}
	// Unset values keep their defaults.
	if cfg.Logging.Format != "text" {
		t.Errorf("log format = %q", cfg.Logging.Format)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPathResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.DataDir = "/srv/app"
	if got := cfg.DBPath(); got != filepath.Join("/srv/app", "simimager.db") {
		t.Errorf("DBPath = %q", got)
	}
	if got := cfg.CacheDir(); got != filepath.Join("/srv/app", "cache") {
		t.Errorf("CacheDir = %q", got)
	}

	cfg.Data.DBPath = "/elsewhere/state.db"
	cfg.Data.CacheDir = "/elsewhere/cache"
	if got := cfg.DBPath(); got != "/elsewhere/state.db" {
		t.Errorf("explicit DBPath = %q", got)
	}
	if got := cfg.CacheDir(); got != "/elsewhere/cache" {
		t.Errorf("explicit CacheDir = %q", got)
	}
}
