// Package config loads the application configuration from YAML, with
// defaults that work without any config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Data    DataConfig    `yaml:"data"`
	GitHub  GitHubConfig  `yaml:"github"`
	CDN     CDNConfig     `yaml:"cdn"`
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig locates local state: the settings database and the
// downloaded-artifact cache.
type DataConfig struct {
	DataDir  string `yaml:"data_dir"`
	DBPath   string `yaml:"db_path"`
	CacheDir string `yaml:"cache_dir"`
}

// GitHubConfig holds API settings. The token is normally supplied via
// environment variable; putting it in the file is supported but
// discouraged.
type GitHubConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// CDNConfig holds the factory-image CDN settings
type CDNConfig struct {
	BaseURL            string `yaml:"base_url"`
	DefaultEnvironment string `yaml:"default_environment"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Data: DataConfig{
			DataDir:  dataDir,
			DBPath:   "",
			CacheDir: "",
		},
		GitHub: GitHubConfig{
			BaseURL: "",
		},
		CDN: CDNConfig{
			BaseURL:            "",
			DefaultEnvironment: "production",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "simimager")
	}
	return "simimager-data"
}

// DBPath resolves the database location, defaulting under the data dir.
func (c *Config) DBPath() string {
	if c.Data.DBPath != "" {
		return c.Data.DBPath
	}
	return filepath.Join(c.Data.DataDir, "simimager.db")
}

// CacheDir resolves the artifact cache location, defaulting under the
// data dir.
func (c *Config) CacheDir() string {
	if c.Data.CacheDir != "" {
		return c.Data.CacheDir
	}
	return filepath.Join(c.Data.DataDir, "cache")
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"simimager.yaml",
		"/etc/simimager/simimager.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "simimager", "simimager.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// LoadOrDefault loads the discovered config file, or returns defaults
// when none exists.
func LoadOrDefault() (*Config, error) {
	path, err := FindConfigFile()
	if err != nil {
		return DefaultConfig(), nil
	}
	return Load(path)
}
