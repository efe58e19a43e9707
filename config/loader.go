package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/google/pathauditor/pkg/walker"
)

// Load reads an AuditorConfig from a YAML file at path, validates it, and
// fills in defaults for anything left unset.
func Load(path string) (*AuditorConfig, error) {
	cfg, err := LoadYAML(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML reads an AuditorConfig from a YAML file without validating it or
// applying defaults, for callers that want to inspect the raw contents.
func LoadYAML(path string) (*AuditorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	var cfg AuditorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects configurations that can't be acted on.
func (cfg *AuditorConfig) Validate() error {
	switch cfg.Mode {
	case "self":
		if cfg.WatchPath == "" {
			return fmt.Errorf("config: mode %q requires watch_path", cfg.Mode)
		}
	case "remote":
		if cfg.RemotePid <= 0 {
			return fmt.Errorf("config: mode %q requires a positive remote_pid", cfg.Mode)
		}
	default:
		return fmt.Errorf("config: unknown mode %q (want \"self\" or \"remote\")", cfg.Mode)
	}
	if cfg.Budget < 0 {
		return fmt.Errorf("config: budget must not be negative, got %d", cfg.Budget)
	}
	switch cfg.LogFormat {
	case "", "text", "json", "cef":
	default:
		return fmt.Errorf("config: unknown log_format %q", cfg.LogFormat)
	}
	return nil
}

// ApplyDefaults fills in zero-valued fields with the same defaults the core
// uses when a caller omits them.
func (cfg *AuditorConfig) ApplyDefaults() {
	if cfg.Budget == 0 {
		cfg.Budget = walker.DefaultBudget
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.ProcessCacheSize == 0 {
		cfg.ProcessCacheSize = 1024
	}
}
