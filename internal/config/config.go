// Package config loads Weaver's runtime configuration from environment
// variables, with an optional YAML overlay read from the vault's data
// directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Weaver runtime configuration.
type Config struct {
	// VaultPath is the absolute path to the vault root. Required.
	VaultPath string `yaml:"vault_path"`

	// CachePath is where the shadow cache and workflow state live.
	// Defaults to <VaultPath>/.weaver-data/cache.
	CachePath string `yaml:"cache_path"`

	// LogLevel controls logging verbosity: debug|info|warn|error.
	LogLevel string `yaml:"log_level"`

	// DebounceMS is the filesystem watcher's debounce window.
	DebounceMS int `yaml:"debounce_ms"`

	// MaxInflightRuns bounds concurrent workflow runs.
	MaxInflightRuns int `yaml:"max_inflight_runs"`

	// StepRetentionDays controls how long completed workflow runs/steps
	// are retained before garbage collection.
	StepRetentionDays int `yaml:"step_retention_days"`

	// Logging carries the file-logger settings. Only DebugMode is reachable
	// from the environment (LOG_LEVEL=debug sets it); the rest come from
	// the YAML overlay.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the category-keyed file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the configuration baseline before env/file overlays.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		DebounceMS:        500,
		MaxInflightRuns:   8,
		StepRetentionDays: 30,
		Logging: LoggingConfig{
			DebugMode: false,
		},
	}
}

// Load builds the Config from environment variables, then overlays a
// <VaultPath>/.weaver-data/config.yaml file if present.
//
// VAULT_PATH is required; all other fields have defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	vaultPath := os.Getenv("VAULT_PATH")
	if vaultPath == "" {
		return nil, fmt.Errorf("VAULT_PATH is required")
	}
	abs, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("resolving VAULT_PATH: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault path unreadable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", abs)
	}
	cfg.VaultPath = abs
	cfg.CachePath = filepath.Join(abs, ".weaver-data", "cache")

	cfg.applyEnvOverrides()

	if err := cfg.overlayYAML(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment variables documented in
// SPEC_FULL.md's Configuration section on top of the defaults.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CACHE_PATH"); v != "" {
		c.CachePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
		if v == "debug" {
			c.Logging.DebugMode = true
		}
	}
	if v := os.Getenv("DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.DebounceMS = n
		}
	}
	if v := os.Getenv("MAX_INFLIGHT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxInflightRuns = n
		}
	}
	if v := os.Getenv("STEP_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StepRetentionDays = n
		}
	}
}

// overlayYAML reads <VaultPath>/.weaver-data/config.yaml if it exists and
// merges any set fields on top of the current config. A missing file is
// not an error.
func (c *Config) overlayYAML() error {
	path := filepath.Join(c.VaultPath, ".weaver-data", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config overlay: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config overlay: %w", err)
	}

	if overlay.CachePath != "" {
		c.CachePath = overlay.CachePath
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.DebounceMS > 0 {
		c.DebounceMS = overlay.DebounceMS
	}
	if overlay.MaxInflightRuns > 0 {
		c.MaxInflightRuns = overlay.MaxInflightRuns
	}
	if overlay.StepRetentionDays > 0 {
		c.StepRetentionDays = overlay.StepRetentionDays
	}
	if overlay.Logging.DebugMode {
		c.Logging.DebugMode = overlay.Logging.DebugMode
	}
	if overlay.Logging.Categories != nil {
		c.Logging.Categories = overlay.Logging.Categories
	}
	if overlay.Logging.JSONFormat {
		c.Logging.JSONFormat = overlay.Logging.JSONFormat
	}

	return nil
}

// DebounceWindow returns DebounceMS as a time.Duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}
